package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/facematch/internal/facecache"
	"github.com/your-org/facematch/internal/models"
	"github.com/your-org/facematch/internal/reconcile"
)

// The two photo tables went through different migration histories: the
// current table keeps native jsonb columns and snake_case names, the
// legacy one stores JSON as encoded text under older column names. Each
// spec captures what the SQL layer needs to know; everything above this
// file sees only the canonical Photo shape.
type tableSpec struct {
	name        string
	selectCols  string
	uploaderCol string
	// jsonCast is appended to JSON columns in predicates ("" when the
	// column is already jsonb).
	jsonCast string
}

var tableSpecs = map[models.SourceTable]tableSpec{
	models.SourceCurrent: {
		name: "photos",
		selectCols: `id::text AS id, storage_key, public_url, uploaded_by::text AS uploaded_by,
			file_size, file_type, faces, matched_users, face_ids,
			location, venue, event_details, created_at, updated_at`,
		uploaderCol: "uploaded_by",
		jsonCast:    "",
	},
	models.SourceLegacy: {
		name: "photos_legacy",
		selectCols: `id::text AS id, storage_path, url, user_id::text AS user_id,
			faces, matched_users, face_ids, created_at, updated_at`,
		uploaderCol: "user_id",
		jsonCast:    "::jsonb",
	},
}

func sourceSpec(source models.SourceTable) (tableSpec, error) {
	spec, ok := tableSpecs[source]
	if !ok {
		return tableSpec{}, fmt.Errorf("unknown photo source %q", source)
	}
	return spec, nil
}

// PhotoSource is the read surface of one physical photo table.
type PhotoSource struct {
	pool   queryer
	spec   tableSpec
	table  models.SourceTable
	shapes *facecache.ShapeCache
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PhotoSource returns the read surface of one table. The shape cache
// may be shared between sources; it remembers which matched-user key
// spelling each table's rows use.
func (s *PostgresStore) PhotoSource(table models.SourceTable, shapes *facecache.ShapeCache) (*PhotoSource, error) {
	spec, err := sourceSpec(table)
	if err != nil {
		return nil, err
	}
	return &PhotoSource{pool: s.pool, spec: spec, table: table, shapes: shapes}, nil
}

func (ps *PhotoSource) Table() models.SourceTable {
	return ps.table
}

func (ps *PhotoSource) ByUploader(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY created_at DESC`,
		ps.spec.selectCols, ps.spec.name, ps.spec.uploaderCol)
	return ps.queryPhotos(ctx, q, userID)
}

// ByMatchedUser runs a JSON containment query against the persisted
// match list. The key spelling differs between schema generations, so
// the cached shape is tried first and the other spelling only when the
// first returns nothing; whichever spelling produces rows is remembered.
func (ps *PhotoSource) ByMatchedUser(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	return ps.byKeyedContainment(ctx, "matched_users", userID)
}

// ByResolvedFace finds photos whose face entries were resolved to the
// user. Same key spelling caveat as ByMatchedUser.
func (ps *PhotoSource) ByResolvedFace(ctx context.Context, userID uuid.UUID) ([]models.Photo, error) {
	return ps.byKeyedContainment(ctx, "faces", userID)
}

func (ps *PhotoSource) byKeyedContainment(ctx context.Context, column string, userID uuid.UUID) ([]models.Photo, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s%s @> jsonb_build_array(jsonb_build_object($2::text, $1::text))
		 ORDER BY created_at DESC`,
		ps.spec.selectCols, ps.spec.name, column, ps.spec.jsonCast)

	for _, shape := range ps.shapeOrder() {
		photos, err := ps.queryPhotos(ctx, q, userID.String(), string(shape))
		if err != nil {
			return nil, err
		}
		if len(photos) > 0 {
			if ps.shapes != nil {
				ps.shapes.Put(ps.table, shape)
			}
			return photos, nil
		}
	}
	return []models.Photo{}, nil
}

func (ps *PhotoSource) shapeOrder() []facecache.KeyShape {
	order := []facecache.KeyShape{facecache.ShapeCurrent, facecache.ShapeLegacy}
	if ps.shapes != nil && ps.shapes.Get(ps.table) == facecache.ShapeLegacy {
		order[0], order[1] = order[1], order[0]
	}
	return order
}

func (ps *PhotoSource) ByFaceID(ctx context.Context, faceID string) ([]models.Photo, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE face_ids%s ? $1 ORDER BY created_at DESC`,
		ps.spec.selectCols, ps.spec.name, ps.spec.jsonCast)
	return ps.queryPhotos(ctx, q, faceID)
}

func (ps *PhotoSource) Recent(ctx context.Context, limit int) ([]models.Photo, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`,
		ps.spec.selectCols, ps.spec.name)
	return ps.queryPhotos(ctx, q, limit)
}

func (ps *PhotoSource) queryPhotos(ctx context.Context, q string, args ...any) ([]models.Photo, error) {
	rows, err := ps.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ps.spec.name, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect %s rows: %w", ps.spec.name, err)
	}

	photos := make([]models.Photo, 0, len(records))
	for _, rec := range records {
		photos = append(photos, models.PhotoFromRecord(rec, ps.table))
	}
	return photos, nil
}

// --- Photo writes (reconcile.PhotoRepository) ---

// CreatePhoto inserts a new upload. New rows always go to the current
// table; the legacy table only ever receives repairs.
func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.Photo) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Source = models.SourceCurrent

	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, storage_key, public_url, uploaded_by, file_size, file_type,
			faces, matched_users, face_ids, location, venue, event_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		p.ID, p.StorageKey, p.PublicURL, p.OwnerID, p.FileSize, p.FileType,
		mustJSON(p.Faces), mustJSON(p.MatchedUsers), mustJSON(p.FaceIDs),
		mustJSON(p.Location), mustJSON(p.Venue), mustJSON(p.EventDetails),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

// GetFrom fetches one photo from a specific table, normalized. Returns
// nil when the row does not exist.
func (s *PostgresStore) GetFrom(ctx context.Context, source models.SourceTable, id uuid.UUID) (*models.Photo, error) {
	spec, err := sourceSpec(source)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, spec.selectCols, spec.name)
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}

	photo := models.PhotoFromRecord(rec, source)
	return &photo, nil
}

// UpdateFaceData writes faces, matched_users and face_ids back to the
// photo's source table.
func (s *PostgresStore) UpdateFaceData(ctx context.Context, photo *models.Photo) error {
	spec, err := sourceSpec(photo.Source)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(
		`UPDATE %s SET faces = $1, matched_users = $2, face_ids = $3, updated_at = $4 WHERE id = $5`,
		spec.name)
	tag, err := s.pool.Exec(ctx, q,
		mustJSON(photo.Faces), mustJSON(photo.MatchedUsers), mustJSON(photo.FaceIDs),
		photo.UpdatedAt, photo.ID)
	if err != nil {
		return fmt.Errorf("update face data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s not found in %s", photo.ID, spec.name)
	}
	return nil
}

// AppendMatch appends one entry to the persisted match list unless an
// entry for the same identity already exists. Row-level security
// rejections surface as reconcile.ErrPermissionDenied so the caller can
// switch to the privileged path.
func (s *PostgresStore) AppendMatch(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error {
	photo, err := s.GetFrom(ctx, source, photoID)
	if err != nil {
		return err
	}
	if photo == nil {
		return fmt.Errorf("photo %s not found in %s", photoID, source)
	}
	if photo.HasMatch(m.UserID) {
		return nil
	}

	spec, err := sourceSpec(source)
	if err != nil {
		return err
	}
	updated := append(photo.MatchedUsers, m)

	q := fmt.Sprintf(`UPDATE %s SET matched_users = $1, updated_at = now() WHERE id = $2`, spec.name)
	_, err = s.pool.Exec(ctx, q, mustJSON(updated), photoID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42501" {
			return fmt.Errorf("append match to %s: %w", spec.name, reconcile.ErrPermissionDenied)
		}
		return fmt.Errorf("append match to %s: %w", spec.name, err)
	}
	return nil
}

// AppendMatchPrivileged routes the append through a SECURITY DEFINER
// database function that performs the same idempotent append with
// elevated rights.
func (s *PostgresStore) AppendMatchPrivileged(ctx context.Context, source models.SourceTable, photoID uuid.UUID, m models.MatchedUser) error {
	spec, err := sourceSpec(source)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`SELECT admin_append_match($1, $2, $3::jsonb)`,
		spec.name, photoID, mustJSON(m))
	if err != nil {
		return fmt.Errorf("privileged append match: %w", err)
	}
	return nil
}

// ByFaceIDs returns photos from both tables whose face_ids overlap the
// given set, deduplicated by photo id.
func (s *PostgresStore) ByFaceIDs(ctx context.Context, faceIDs []string) ([]models.Photo, error) {
	if len(faceIDs) == 0 {
		return []models.Photo{}, nil
	}

	seen := make(map[uuid.UUID]struct{})
	merged := []models.Photo{}
	for _, table := range []models.SourceTable{models.SourceCurrent, models.SourceLegacy} {
		spec := tableSpecs[table]
		q := fmt.Sprintf(`SELECT %s FROM %s WHERE face_ids%s ?| $1 ORDER BY created_at DESC`,
			spec.selectCols, spec.name, spec.jsonCast)
		rows, err := s.pool.Query(ctx, q, faceIDs)
		if err != nil {
			return nil, fmt.Errorf("query %s by face ids: %w", spec.name, err)
		}
		records, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, fmt.Errorf("collect %s rows: %w", spec.name, err)
		}
		for _, rec := range records {
			p := models.PhotoFromRecord(rec, table)
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged, nil
}

func (s *PostgresStore) DeletePhoto(ctx context.Context, source models.SourceTable, id uuid.UUID) error {
	spec, err := sourceSpec(source)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, spec.name), id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo not found")
	}
	return nil
}

// mustJSON never fails for the model types it is applied to.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
