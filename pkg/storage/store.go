// Package storage persists §6's on-disk state: a bbolt database for the
// small, frequently-updated records (deployment terminal status + snapshot
// pointer, artifact directory bookkeeping, group-membership maps) adapted
// bucket-for-bucket from the teacher's BoltStore, plus the plain-file
// layout spec.md's External Interfaces section specifies directly:
// packages/recipes/<name>-<version>.yaml (human-readable, individually
// diagnosable after a crash) and packages/artifacts/<name>/<version> for
// fetched artifact bytes. Recipe YAML is deliberately kept as plain files
// rather than bolt-bucketed blobs so pkg/gc's directory walk (§4.6) and a
// crash mid-fetch both leave the same diagnosable trail bbolt's opaque
// B-tree pages would obscure.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/fleetedge/deployd/pkg/types"
)

var (
	bucketDeployments     = []byte("deployments")
	bucketArtifactsIndex  = []byte("artifacts-index")
	bucketGroupMembership = []byte("group-membership")
)

const groupMembershipKey = "current"

// DeploymentRecord is the persisted terminal-status record for one
// deployment, plus whether a rollback snapshot was captured for it.
type DeploymentRecord struct {
	DeploymentID string                 `json:"deploymentId"`
	Status       types.DeploymentStatus `json:"status"`
	HasSnapshot  bool                   `json:"hasSnapshot"`
}

// ArtifactIndexEntry records where a fetched artifact's bytes live on disk,
// not the bytes themselves.
type ArtifactIndexEntry struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Path       string `json:"path"`
	Unarchived string `json:"unarchived,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// groupMembershipRecord wraps GroupToRoots for bolt storage; ComponentsToGroups
// is derived on load via types.DeriveComponentsToGroups rather than stored
// twice.
type groupMembershipRecord struct {
	GroupToRoots types.GroupToRoots `json:"groupToRoots"`
}

// Store is the bbolt-backed persistence layer, rooted alongside the
// plain-file layout under the same root directory.
type Store struct {
	root string
	db   *bolt.DB
}

// Open creates or opens the store's bbolt database and plain-file
// directories under root.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	for _, dir := range []string{
		filepath.Join(root, "packages", "recipes"),
		filepath.Join(root, "packages", "artifacts"),
		filepath.Join(root, "packages", "artifacts-unarchived"),
		filepath.Join(root, "deployments"),
		filepath.Join(root, "config"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(filepath.Join(root, "deployd.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDeployments, bucketArtifactsIndex, bucketGroupMembership} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{root: root, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Root returns the configured root directory, for collaborators (gc,
// rollback, recipe loading) that work against the plain-file layout
// directly.
func (s *Store) Root() string { return s.root }

// PutDeploymentRecord persists the terminal record for a deployment.
func (s *Store) PutDeploymentRecord(rec DeploymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeployments).Put([]byte(rec.DeploymentID), data)
	})
}

// GetDeploymentRecord looks up a deployment's persisted terminal record.
func (s *Store) GetDeploymentRecord(id string) (DeploymentRecord, bool, error) {
	var rec DeploymentRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeployments).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// PutArtifactIndexEntry records where a fetched artifact's bytes live.
func (s *Store) PutArtifactIndexEntry(e ArtifactIndexEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketArtifactsIndex).Put([]byte(artifactIndexKey(e.Name, e.Version)), data)
	})
}

// GetArtifactIndexEntry looks up a recorded artifact location.
func (s *Store) GetArtifactIndexEntry(name, version string) (ArtifactIndexEntry, bool, error) {
	var e ArtifactIndexEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketArtifactsIndex).Get([]byte(artifactIndexKey(name, version)))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	return e, found, err
}

// DeleteArtifactIndexEntry removes the index entry for a GC'd version.
func (s *Store) DeleteArtifactIndexEntry(name, version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifactsIndex).Delete([]byte(artifactIndexKey(name, version)))
	})
}

func artifactIndexKey(name, version string) string {
	return name + "@" + version
}

// PutGroupMembership persists the current GroupToRoots mapping (§3). The
// inverse index is not stored; callers rebuild it with
// types.DeriveComponentsToGroups after GetGroupMembership.
func (s *Store) PutGroupMembership(g types.GroupToRoots) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(groupMembershipRecord{GroupToRoots: g})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroupMembership).Put([]byte(groupMembershipKey), data)
	})
}

// GetGroupMembership loads the persisted GroupToRoots mapping, or an empty
// one if none has been written yet (first boot).
func (s *Store) GetGroupMembership() (types.GroupToRoots, error) {
	var rec groupMembershipRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGroupMembership).Get([]byte(groupMembershipKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.GroupToRoots == nil {
		rec.GroupToRoots = make(types.GroupToRoots)
	}
	return rec.GroupToRoots, nil
}
