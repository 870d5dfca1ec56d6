package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/your-org/facematch/internal/config"
	"github.com/your-org/facematch/internal/observability"
)

// RekognitionAPI is the slice of the AWS SDK client this adapter uses.
type RekognitionAPI interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	IndexFaces(ctx context.Context, in *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *rekognition.SearchFacesByImageInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	SearchFaces(ctx context.Context, in *rekognition.SearchFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesOutput, error)
	DeleteCollection(ctx context.Context, in *rekognition.DeleteCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.DeleteCollectionOutput, error)
	CreateCollection(ctx context.Context, in *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
}

// Rekognition adapts AWS Rekognition to the FaceProvider contract with
// bounded retries and linearly increasing backoff.
type Rekognition struct {
	api         RekognitionAPI
	collection  string
	threshold   float64
	maxFaces    int32
	maxAttempts int
	retryDelay  time.Duration
}

func NewRekognition(cfg config.RekognitionConfig, matching config.MatchingConfig) (*Rekognition, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Rekognition{
		api:         rekognition.NewFromConfig(awsCfg),
		collection:  cfg.CollectionID,
		threshold:   matching.Threshold,
		maxFaces:    int32(matching.MaxFaces),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// NewRekognitionWithAPI wires a pre-built API client, used by tests.
func NewRekognitionWithAPI(api RekognitionAPI, collection string, threshold float64, maxFaces int32, maxAttempts int, retryDelay time.Duration) *Rekognition {
	return &Rekognition{
		api:         api,
		collection:  collection,
		threshold:   threshold,
		maxFaces:    maxFaces,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

func (r *Rekognition) Detect(ctx context.Context, image []byte) ([]DetectedFace, error) {
	var out *rekognition.DetectFacesOutput
	err := r.withRetry(ctx, "detect", func() error {
		var err error
		out, err = r.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
			Image:      &types.Image{Bytes: image},
			Attributes: []types.Attribute{types.AttributeAll},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]DetectedFace, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		attrs, _ := json.Marshal(fd)
		faces = append(faces, DetectedFace{
			Confidence: float64(aws.ToFloat32(fd.Confidence)),
			Attributes: attrs,
		})
	}
	return faces, nil
}

func (r *Rekognition) Index(ctx context.Context, image []byte, externalID string) ([]IndexedFace, error) {
	var out *rekognition.IndexFacesOutput
	err := r.withRetry(ctx, "index", func() error {
		var err error
		out, err = r.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
			CollectionId:        aws.String(r.collection),
			Image:               &types.Image{Bytes: image},
			ExternalImageId:     aws.String(externalID),
			DetectionAttributes: []types.Attribute{types.AttributeAll},
			QualityFilter:       types.QualityFilterAuto,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("index faces: %w", err)
	}

	faces := make([]IndexedFace, 0, len(out.FaceRecords))
	for _, rec := range out.FaceRecords {
		if rec.Face == nil {
			continue
		}
		detail, _ := json.Marshal(rec.FaceDetail)
		faces = append(faces, IndexedFace{
			FaceID:     aws.ToString(rec.Face.FaceId),
			ExternalID: aws.ToString(rec.Face.ExternalImageId),
			Detail:     detail,
		})
	}
	return faces, nil
}

func (r *Rekognition) SearchByImage(ctx context.Context, image []byte) ([]Match, error) {
	var out *rekognition.SearchFacesByImageOutput
	err := r.withRetry(ctx, "search_by_image", func() error {
		var err error
		out, err = r.api.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
			CollectionId:       aws.String(r.collection),
			Image:              &types.Image{Bytes: image},
			FaceMatchThreshold: aws.Float32(float32(r.threshold)),
			MaxFaces:           aws.Int32(r.maxFaces),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search faces by image: %w", err)
	}
	return convertMatches(out.FaceMatches), nil
}

func (r *Rekognition) SearchByFaceID(ctx context.Context, faceID string) ([]Match, error) {
	var out *rekognition.SearchFacesOutput
	err := r.withRetry(ctx, "search_by_face_id", func() error {
		var err error
		out, err = r.api.SearchFaces(ctx, &rekognition.SearchFacesInput{
			CollectionId:       aws.String(r.collection),
			FaceId:             aws.String(faceID),
			FaceMatchThreshold: aws.Float32(float32(r.threshold)),
			MaxFaces:           aws.Int32(r.maxFaces),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search faces by id: %w", err)
	}
	return convertMatches(out.FaceMatches), nil
}

func (r *Rekognition) DeleteCollection(ctx context.Context) error {
	_, err := r.api.DeleteCollection(ctx, &rekognition.DeleteCollectionInput{
		CollectionId: aws.String(r.collection),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (r *Rekognition) CreateCollection(ctx context.Context) error {
	_, err := r.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(r.collection),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func convertMatches(faceMatches []types.FaceMatch) []Match {
	matches := make([]Match, 0, len(faceMatches))
	for _, fm := range faceMatches {
		if fm.Face == nil {
			continue
		}
		matches = append(matches, Match{
			FaceID:     aws.ToString(fm.Face.FaceId),
			ExternalID: aws.ToString(fm.Face.ExternalImageId),
			Similarity: float64(aws.ToFloat32(fm.Similarity)),
		})
	}
	return matches
}

// withRetry runs fn up to maxAttempts times, sleeping attempt*retryDelay
// between tries.
func (r *Rekognition) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == r.maxAttempts {
			break
		}
		observability.ProviderRetries.WithLabelValues(op).Inc()
		slog.Warn("provider call failed, retrying", "op", op, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.retryDelay):
		}
	}
	return lastErr
}
