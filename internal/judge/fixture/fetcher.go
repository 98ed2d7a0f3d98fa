// Package fixture resolves testcase fixture references to local files.
package fixture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"fujudge/internal/common/cache"
	"fujudge/internal/common/storage"
	"fujudge/internal/judge/model"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	compressedSuffix = ".zst"
	digestSuffix     = ".sha256"
	lockKeyPrefix    = "judge:fixture:lock:"
	localDir         = "_local"
)

// Fetcher turns fixture refs into paths on the local disk.
//
// A plain local path is returned unchanged. A remote ref (s3://bucket/key) is
// downloaded once into <cacheRoot>/<bucket>/<key> and reused while its digest
// sidecar matches. Refs ending in .zst are decompressed into the cache.
type Fetcher struct {
	cacheRoot string
	storage   storage.ObjectStorage
	lock      cache.LockOps
	lockTTL   time.Duration
	lockWait  time.Duration
	poll      time.Duration

	group singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLock guards downloads with a distributed lock so that judges sharing a
// cache root do not fetch the same object concurrently.
func WithLock(lock cache.LockOps, ttl, wait time.Duration) Option {
	return func(f *Fetcher) {
		f.lock = lock
		if ttl > 0 {
			f.lockTTL = ttl
		}
		if wait > 0 {
			f.lockWait = wait
		}
	}
}

// NewFetcher creates a fetcher. store may be nil when only local refs are used.
func NewFetcher(cacheRoot string, store storage.ObjectStorage, opts ...Option) *Fetcher {
	f := &Fetcher{
		cacheRoot: cacheRoot,
		storage:   store,
		lockTTL:   5 * time.Minute,
		lockWait:  30 * time.Second,
		poll:      200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsRemote reports whether ref names an object in storage.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, model.RemotePrefix)
}

// ParseRef splits s3://bucket/key.
func ParseRef(ref string) (bucket, key string, err error) {
	if !IsRemote(ref) {
		return "", "", appErr.Newf(appErr.InvalidFormat, "not a remote fixture ref: %s", ref)
	}
	rest := strings.TrimPrefix(ref, model.RemotePrefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", appErr.Newf(appErr.InvalidFormat, "fixture ref must be s3://bucket/key: %s", ref)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", appErr.Newf(appErr.InvalidFormat, "fixture key escapes the cache: %s", ref)
	}
	if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", "", appErr.Newf(appErr.InvalidFormat, "invalid bucket in fixture ref: %s", ref)
	}
	return bucket, clean, nil
}

// Resolve returns a readable local path for ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", appErr.ValidationError("fixture", "required")
	}
	if !IsRemote(ref) && !strings.HasSuffix(ref, compressedSuffix) {
		return ref, nil
	}
	if f.cacheRoot == "" {
		return "", appErr.New(appErr.CacheError).WithMessage("fixture cache root is not configured")
	}
	if IsRemote(ref) {
		return f.resolveRemote(ctx, ref)
	}
	return f.resolveLocal(ctx, ref)
}

func (f *Fetcher) resolveRemote(ctx context.Context, ref string) (string, error) {
	if f.storage == nil {
		return "", appErr.New(appErr.FixtureFetchFailed).WithMessage("object storage is not configured")
	}
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	target := filepath.Join(f.cacheRoot, bucket, strings.TrimSuffix(key, compressedSuffix))

	stat, err := f.storage.StatObject(ctx, bucket, filepath.ToSlash(key))
	if err != nil {
		return "", storageError(err, ref)
	}
	version := stat.ETag
	if version == "" {
		version = fmt.Sprintf("size:%d", stat.SizeBytes)
	}

	v, err, _ := f.group.Do(target, func() (any, error) {
		if checkDisk(target, version) {
			return target, nil
		}
		if f.lock == nil {
			return target, f.download(ctx, ref, bucket, key, target, version)
		}
		lockKey := lockKeyPrefix + bucket + "/" + filepath.ToSlash(key)
		locked, err := f.lock.TryLock(ctx, lockKey, f.lockTTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "acquire fixture lock failed")
		}
		if !locked {
			return target, f.waitForDisk(ctx, target, version)
		}
		stopRenew := f.renewLock(ctx, lockKey)
		defer func() {
			stopRenew()
			_ = f.lock.Unlock(context.WithoutCancel(ctx), lockKey)
		}()
		if checkDisk(target, version) {
			return target, nil
		}
		return target, f.download(ctx, ref, bucket, key, target, version)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// renewLock extends the download lock every half TTL until the returned
// func is called.
func (f *Fetcher) renewLock(ctx context.Context, lockKey string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		interval := f.lockTTL / 2
		if interval <= 0 {
			interval = f.lockTTL
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.lock.ExtendLock(ctx, lockKey, f.lockTTL); err != nil {
					logger.Warn(ctx, "extend fixture lock failed", zap.String("key", lockKey), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (f *Fetcher) download(ctx context.Context, ref, bucket, key, target, version string) error {
	reader, err := f.storage.GetObject(ctx, bucket, filepath.ToSlash(key))
	if err != nil {
		return storageError(err, ref)
	}
	defer reader.Close()

	if err := writeCached(reader, target, version, strings.HasSuffix(key, compressedSuffix)); err != nil {
		return err
	}
	logger.Info(ctx, "fixture downloaded", zap.String("ref", ref), zap.String("path", target))
	return nil
}

func (f *Fetcher) resolveLocal(ctx context.Context, ref string) (string, error) {
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.FixtureFetchFailed, "resolve fixture path failed")
	}
	src, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", appErr.Wrapf(err, appErr.FixtureNotFound, "fixture not found: %s", ref)
		}
		return "", appErr.Wrapf(err, appErr.FixtureFetchFailed, "open fixture failed: %s", ref)
	}
	defer src.Close()

	version, err := digestReader(src)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.FixtureFetchFailed, "hash fixture failed: %s", ref)
	}
	sum := sha256.Sum256([]byte(abs))
	target := filepath.Join(f.cacheRoot, localDir, hex.EncodeToString(sum[:8]), strings.TrimSuffix(filepath.Base(abs), compressedSuffix))

	v, err, _ := f.group.Do(target, func() (any, error) {
		if checkDisk(target, version) {
			return target, nil
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, appErr.Wrapf(err, appErr.FixtureFetchFailed, "rewind fixture failed")
		}
		if err := writeCached(src, target, version, true); err != nil {
			return nil, err
		}
		logger.Debug(ctx, "fixture decompressed", zap.String("ref", ref), zap.String("path", target))
		return target, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) waitForDisk(ctx context.Context, target, version string) error {
	deadline := time.Now().Add(f.lockWait)
	for {
		if checkDisk(target, version) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for fixture download timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.poll):
		}
	}
}

// writeCached streams r into target through a temp file and records the
// sidecar "<sha256> <version>" once the content is in place.
func writeCached(r io.Reader, target, version string, compressed bool) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create fixture cache dir failed")
	}
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return appErr.Wrapf(err, appErr.FixtureDecodeFailed, "create zstd reader failed")
		}
		defer dec.Close()
		r = dec
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create fixture temp file failed")
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, hasher)); err != nil {
		_ = tmp.Close()
		if compressed {
			return appErr.Wrapf(err, appErr.FixtureDecodeFailed, "decompress fixture failed")
		}
		return appErr.Wrapf(err, appErr.FixtureFetchFailed, "write fixture failed")
	}
	if err := tmp.Close(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "close fixture temp file failed")
	}

	_ = os.Remove(target + digestSuffix)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "move fixture into cache failed")
	}
	sidecar := hex.EncodeToString(hasher.Sum(nil)) + " " + version + "\n"
	if err := os.WriteFile(target+digestSuffix, []byte(sidecar), 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write fixture digest failed")
	}
	return nil
}

// checkDisk reports whether target holds the content recorded for version.
func checkDisk(target, version string) bool {
	data, err := os.ReadFile(target + digestSuffix)
	if err != nil {
		return false
	}
	digest, stored, ok := strings.Cut(strings.TrimSpace(string(data)), " ")
	if !ok || stored != version {
		return false
	}
	file, err := os.Open(target)
	if err != nil {
		return false
	}
	defer file.Close()
	actual, err := digestReader(file)
	return err == nil && strings.EqualFold(actual, digest)
}

func digestReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func storageError(err error, ref string) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return appErr.Wrapf(err, appErr.FixtureNotFound, "fixture not found: %s", ref)
	}
	return appErr.Wrapf(err, appErr.FixtureFetchFailed, "fetch fixture failed: %s", ref)
}
