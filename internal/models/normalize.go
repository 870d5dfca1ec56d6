package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// The two photo tables predate each other by several schema migrations,
// so the same semantic field shows up under different names (user_id vs
// userId, matched_users vs matchedUsers) and JSON columns are sometimes
// stored as encoded strings rather than native arrays. PhotoFromRecord
// folds every variant into the one canonical Photo shape. It never
// fails: unreadable values degrade to their zero defaults, absent
// collections become empty slices, and absent nested objects become
// all-null placeholders. Running it over an already-canonical record
// changes nothing.
func PhotoFromRecord(rec map[string]any, source SourceTable) Photo {
	p := Photo{
		ID:         parseUUID(pick(rec, "id")),
		StorageKey: asString(pick(rec, "storage_key", "storagePath", "storage_path")),
		PublicURL:  asString(pick(rec, "public_url", "publicUrl", "url")),
		OwnerID:    parseUUID(pick(rec, "uploaded_by", "uploadedBy", "user_id", "userId")),
		FileSize:   asInt64(pick(rec, "file_size", "fileSize")),
		FileType:   asString(pick(rec, "file_type", "fileType")),
		Source:     source,
		CreatedAt:  parseTime(pick(rec, "created_at", "createdAt")),
		UpdatedAt:  parseTime(pick(rec, "updated_at", "updatedAt")),
	}

	p.Faces = normalizeFaces(pick(rec, "faces"))
	p.MatchedUsers = normalizeMatches(pick(rec, "matched_users", "matchedUsers"))
	p.FaceIDs = normalizeStrings(pick(rec, "face_ids", "faceIds"))

	p.Location = normalizeLocation(pick(rec, "location"))
	p.Venue = normalizeVenue(pick(rec, "venue"))
	p.EventDetails = normalizeEventDetails(pick(rec, "event_details", "eventDetails"))

	return p
}

func normalizeFaces(v any) []Face {
	items := asSlice(v)
	faces := make([]Face, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := Face{
			FaceID:     asString(pick(m, "faceId", "face_id")),
			UserID:     parseUUID(pick(m, "userId", "user_id")),
			Confidence: asFloat(pick(m, "confidence")),
		}
		if attrs := pick(m, "attributes"); attrs != nil {
			if raw, err := json.Marshal(attrs); err == nil {
				f.Attributes = raw
			}
		}
		faces = append(faces, f)
	}
	return faces
}

func normalizeMatches(v any) []MatchedUser {
	items := asSlice(v)
	matches := make([]MatchedUser, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		userID := parseUUID(pick(m, "userId", "user_id"))
		if userID == uuid.Nil {
			// An entry without an identity is not a match.
			continue
		}
		mu := MatchedUser{
			UserID:     userID,
			FaceID:     asString(pick(m, "faceId", "face_id")),
			FullName:   asString(pick(m, "fullName", "full_name")),
			AvatarURL:  asString(pick(m, "avatarUrl", "avatar_url")),
			Confidence: asFloat(pick(m, "confidence")),
			Similarity: asFloat(pick(m, "similarity")),
			MatchedAt:  parseTime(pick(m, "matched_at", "matchedAt")),
		}
		if mu.Similarity == 0 {
			mu.Similarity = mu.Confidence
		}
		// Duplicate identities collapse to the first entry.
		dup := false
		for _, existing := range matches {
			if existing.UserID == mu.UserID {
				dup = true
				break
			}
		}
		if !dup {
			matches = append(matches, mu)
		}
	}
	return matches
}

func normalizeStrings(v any) []string {
	items := asSlice(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeLocation(v any) Location {
	m, _ := asObject(v)
	return Location{
		Lat:  asFloatPtr(pick(m, "lat")),
		Lng:  asFloatPtr(pick(m, "lng")),
		Name: asStringPtr(pick(m, "name")),
	}
}

func normalizeVenue(v any) Venue {
	m, _ := asObject(v)
	return Venue{
		ID:   asStringPtr(pick(m, "id")),
		Name: asStringPtr(pick(m, "name")),
	}
}

func normalizeEventDetails(v any) EventDetails {
	m, _ := asObject(v)
	return EventDetails{
		Date: asStringPtr(pick(m, "date")),
		Name: asStringPtr(pick(m, "name")),
		Type: asStringPtr(pick(m, "type")),
	}
}

// pick returns the first present, non-nil value among the given keys.
func pick(rec map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// asSlice accepts a native array or a JSON-encoded array string.
func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		var out []any
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out
		}
	case json.RawMessage:
		var out []any
		if err := json.Unmarshal(t, &out); err == nil {
			return out
		}
	}
	return nil
}

// asObject accepts a native object or a JSON-encoded object string.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out, true
		}
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(t, &out); err == nil {
			return out, true
		}
	}
	return nil, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringPtr(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}

func asFloatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	f := asFloat(v)
	return &f
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		i, _ := t.Int64()
		return i
	}
	return 0
}

func parseUUID(v any) uuid.UUID {
	s, ok := v.(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
