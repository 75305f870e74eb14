// Package cas implements apl's S3-compatible content-addressed artifact
// store: exists/get/upload/upload_chunked/get_manifest plus
// public_url/manifest_url string construction. The client wraps
// aws-sdk-go's S3 service with a thin struct around *s3.S3, one method
// per operation, content type and path derived from the key, over a flat
// hash-keyed namespace rather than a hierarchical filesystem.
package cas

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/jpmacdonald/apl/internal/chunk"
	"github.com/jpmacdonald/apl/internal/config"
	"github.com/jpmacdonald/apl/internal/model"
	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// ErrStoreDisabled is returned by mutation operations when the backend is
// not configured: a disabled store is a stub whose mutation operations
// fail with "uploads disabled".
var ErrStoreDisabled = errors.New("uploads disabled")

// ManifestChunk describes one chunk inside a BlobManifest.
type ManifestChunk struct {
	Hash string `json:"hash"`
	Size int    `json:"size"`
}

// BlobManifest lists the chunks composing a blob stored via UploadChunked,
// in reassembly order.
type BlobManifest struct {
	Hash   string          `json:"hash"`
	Chunks []ManifestChunk `json:"chunks"`
}

// Store is apl's CAS client. A Store with Enabled=false answers queries
// with empty results and mutations with ErrStoreDisabled, so callers never
// need to branch on configuration themselves.
type Store struct {
	s3        *s3.S3
	bucket    string
	publicURL string
	enabled   bool
}

// New constructs a Store from cfg. When cfg.Enabled is false, New still
// succeeds and returns a disabled stub (no network clients are built).
func New(cfg config.StoreConfig) (*Store, error) {
	if !cfg.Enabled {
		return &Store{enabled: false}, nil
	}

	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(true)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("cas: building s3 session: %w", err)
	}

	return &Store{
		s3:        s3.New(sess),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		enabled:   true,
	}, nil
}

func (s *Store) key(hash model.ContentHash) string {
	return "cas/" + hash.Hex
}

func (s *Store) manifestKey(hash model.ContentHash) string {
	return "manifests/" + hash.Hex
}

// PublicURL constructs {base}/cas/{hash} without touching the network.
func (s *Store) PublicURL(hash model.ContentHash) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/cas/" + hash.Hex
}

// ManifestURL constructs {base}/manifests/{hash} without touching the
// network.
func (s *Store) ManifestURL(hash model.ContentHash) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/manifests/" + hash.Hex
}

// Exists performs a HEAD request with no data transfer.
func (s *Store) Exists(ctx context.Context, hash model.ContentHash) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	_, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err == nil {
		return true, nil
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound") {
		return false, nil
	}
	return false, pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "checking existence", err)
}

// Get streams the blob stored at hash.
func (s *Store) Get(ctx context.Context, hash model.ContentHash) (io.ReadCloser, error) {
	if !s.enabled {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	resp, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "fetching blob", err)
	}
	return resp.Body, nil
}

// Upload stores data under hash and returns its public URL. Uploads are
// idempotent on collision: PutObject to the same content-addressed key is
// a no-op in effect regardless of how many writers race to do it.
func (s *Store) Upload(ctx context.Context, hash model.ContentHash, data []byte) (string, error) {
	if !s.enabled {
		return "", ErrStoreDisabled
	}
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "uploading blob", err)
	}
	return s.PublicURL(hash), nil
}

// UploadChunked splits data into content-defined chunks, uploads only the
// chunks not already present, and writes a manifest listing every chunk's
// hash and size in reassembly order. Reassembling the listed
// chunks in order reproduces data exactly, so a caller that only trusts
// the manifest can still verify the blob hashes to hash.
func (s *Store) UploadChunked(ctx context.Context, hash model.ContentHash, data []byte) (string, error) {
	if !s.enabled {
		return "", ErrStoreDisabled
	}

	chunks, err := chunk.Split(data)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "chunking blob", err)
	}

	manifest := BlobManifest{Hash: hash.Hex}
	for _, c := range chunks {
		chunkHash := model.ContentHash{Algorithm: "sha256", Hex: c.Hash.Encoded()}
		manifest.Chunks = append(manifest.Chunks, ManifestChunk{Hash: chunkHash.Hex, Size: len(c.Data)})

		exists, err := s.chunkExists(ctx, chunkHash)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		if _, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(chunkHash)),
			Body:   bytes.NewReader(c.Data),
		}); err != nil {
			return "", pkgerr.Wrap(pkgerr.KindIO, chunkHash.Hex, "uploading chunk", err)
		}
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "encoding manifest", err)
	}
	if _, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.manifestKey(hash)),
		Body:   bytes.NewReader(manifestBytes),
	}); err != nil {
		return "", pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "uploading manifest", err)
	}

	return s.ManifestURL(hash), nil
}

func (s *Store) chunkExists(ctx context.Context, hash model.ContentHash) (bool, error) {
	return s.Exists(ctx, hash)
}

// GetManifest fetches and decodes the BlobManifest for hash.
func (s *Store) GetManifest(ctx context.Context, hash model.ContentHash) (*BlobManifest, error) {
	if !s.enabled {
		return nil, nil
	}
	resp, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.manifestKey(hash)),
	})
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "fetching manifest", err)
	}
	defer resp.Body.Close()

	var manifest BlobManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "decoding manifest", err)
	}
	return &manifest, nil
}

// FetchChunked downloads every chunk listed in a manifest and reassembles
// them in order, verifying the result hashes to hash.
func (s *Store) FetchChunked(ctx context.Context, hash model.ContentHash) ([]byte, error) {
	manifest, err := s.GetManifest(ctx, hash)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, pkgerr.NotFound(hash.Hex)
	}

	var out bytes.Buffer
	for _, c := range manifest.Chunks {
		chunkHash := model.ContentHash{Algorithm: "sha256", Hex: c.Hash}
		rc, err := s.Get(ctx, chunkHash)
		if err != nil {
			return nil, err
		}
		_, copyErr := io.Copy(&out, rc)
		rc.Close()
		if copyErr != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, hash.Hex, "reassembling chunked blob", copyErr)
		}
	}
	sum := sha256.Sum256(out.Bytes())
	if got := hex.EncodeToString(sum[:]); got != hash.Hex {
		return nil, pkgerr.New(pkgerr.KindIntegrity, hash.Hex, "reassembled blob hash mismatch: got "+got)
	}
	return out.Bytes(), nil
}
