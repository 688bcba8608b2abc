// Package tokenfile reads and writes connection files: an OAuth2 token plus
// the provider realm it belongs to. The OAuth handshake happens outside this
// program and hands its result over in this format; `acctsync connect import`
// loads it and `acctsync connect export` writes it back out.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts connection files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the parent directory.
const DirPerms = 0o700

// Meta keys.
const (
	MetaRealmID = "realm_id"
	MetaActorID = "actor_id"
)

// File is the on-disk format.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// RealmID returns the provider company id recorded in the file.
func (f *File) RealmID() string {
	return f.Meta[MetaRealmID]
}

// ActorID returns the actor recorded in the file, if any.
func (f *File) ActorID() string {
	return f.Meta[MetaActorID]
}

// Load reads and validates a connection file. The token must carry both an
// access and a refresh token, and the meta must name the realm.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	var errs []error

	if f.Token == nil {
		errs = append(errs, errors.New("missing token field"))
	} else {
		if f.Token.AccessToken == "" {
			errs = append(errs, errors.New("token has no access_token"))
		}

		if f.Token.RefreshToken == "" {
			errs = append(errs, errors.New("token has no refresh_token"))
		}
	}

	if f.RealmID() == "" {
		errs = append(errs, fmt.Errorf("meta has no %s", MetaRealmID))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("tokenfile: %s: %w", path, errors.Join(errs...))
	}

	return &f, nil
}

// Save writes f atomically (write-to-temp + rename) with 0600 permissions.
func Save(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".connection-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
