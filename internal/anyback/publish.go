package anyback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"anyback-go/internal/archive"
)

// EncryptedSuffix is appended to the key of encrypted vault objects.
const EncryptedSuffix = ".age"

// PublishResult lists what Publish stored.
type PublishResult struct {
	Vault     string
	Keys      []string
	Encrypted bool
	Bytes     int64
}

// Publish copies a zip archive and its manifest sidecar into the vault. When
// an encryptor is configured the copies are encrypted; the local archive is
// never modified.
func (s *Service) Publish(ctx context.Context, archivePath string) (*PublishResult, error) {
	if s.vault == nil {
		return nil, fmt.Errorf("%w: no vault configured", ErrInvalid)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: archive %s", ErrNotFound, archivePath)
		}
		return nil, fmt.Errorf("checking archive: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: only zip archives can be published", ErrUnsupportedFormat)
	}

	res := &PublishResult{Vault: s.vault.Name(), Encrypted: s.encryptor != nil}
	files := []string{archivePath}
	if _, err := os.Stat(archive.SidecarPath(archivePath)); err == nil {
		files = append(files, archive.SidecarPath(archivePath))
	}

	for _, path := range files {
		key := filepath.Base(path)
		if res.Encrypted {
			key += EncryptedSuffix
		}
		n, err := s.putFile(ctx, path, key)
		if err != nil {
			return nil, fmt.Errorf("publishing %s: %w", filepath.Base(path), err)
		}
		res.Keys = append(res.Keys, key)
		res.Bytes += n
		s.logger.Info("published", "vault", res.Vault, "key", key, "bytes", n)
	}
	return res, nil
}

func (s *Service) putFile(ctx context.Context, path, key string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer src.Close()

	if s.encryptor == nil {
		info, err := src.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat file: %w", err)
		}
		if err := s.vault.Put(ctx, key, src, info.Size()); err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	tmp, err := os.CreateTemp("", "anyback-publish-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := s.encryptor.Encrypt(src, tmp); err != nil {
		return 0, fmt.Errorf("encrypting: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("sizing encrypted file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding encrypted file: %w", err)
	}
	if err := s.vault.Put(ctx, key, tmp, size); err != nil {
		return 0, err
	}
	return size, nil
}

// ListPublished returns the objects stored in the vault.
func (s *Service) ListPublished(ctx context.Context) ([]VaultObject, error) {
	if s.vault == nil {
		return nil, fmt.Errorf("%w: no vault configured", ErrInvalid)
	}
	objs, err := s.vault.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vault %s: %w", s.vault.Name(), err)
	}
	return objs, nil
}

// Fetch downloads a published archive to dest, along with its sidecar when
// the vault holds one. Encrypted objects are decrypted with a key unlocked by
// the passphrase callback, which is only called when needed.
func (s *Service) Fetch(ctx context.Context, key, dest string, passphrase func() (string, error)) error {
	if s.vault == nil {
		return fmt.Errorf("%w: no vault configured", ErrInvalid)
	}
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
	}

	objs, err := s.ListPublished(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(objs))
	for _, o := range objs {
		stored[o.Key] = true
	}
	if !stored[key] {
		return fmt.Errorf("%w: %s in vault %s", ErrNotFound, key, s.vault.Name())
	}

	var dc DecryptionContext
	encrypted := strings.HasSuffix(key, EncryptedSuffix)
	if encrypted {
		if s.encryptor == nil {
			return fmt.Errorf("%w: %s is encrypted but no encryption is configured", ErrInvalid, key)
		}
		pass, err := passphrase()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if dc, err = s.encryptor.Unlock(pass); err != nil {
			return fmt.Errorf("unlocking private key: %w", err)
		}
	}

	if err := s.getFile(ctx, key, dest, dc); err != nil {
		return err
	}
	s.logger.Info("fetched", "vault", s.vault.Name(), "key", key, "dest", dest)

	sidecarKey := strings.TrimSuffix(key, EncryptedSuffix) + ".manifest.json"
	if encrypted {
		sidecarKey += EncryptedSuffix
	}
	if stored[sidecarKey] {
		if err := s.getFile(ctx, sidecarKey, archive.SidecarPath(dest), dc); err != nil {
			return fmt.Errorf("fetching manifest sidecar: %w", err)
		}
	}
	return nil
}

func (s *Service) getFile(ctx context.Context, key, dest string, dc DecryptionContext) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if dc == nil {
		if err := s.vault.Get(ctx, key, tmp); err != nil {
			return fmt.Errorf("downloading %s: %w", key, err)
		}
	} else {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(s.vault.Get(ctx, key, pw))
		}()
		if err := dc.Decrypt(pr, tmp); err != nil {
			pr.CloseWithError(err)
			return fmt.Errorf("decrypting %s: %w", key, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}
