package backup

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Service creates backups in the local archive and mirrors them to object
// storage when an uploader is configured.
type Service struct {
	archive  *Archive
	uploader *Uploader
}

// NewService wires the archive with an optional uploader; uploader may be nil
// when no object store is configured.
func NewService(archive *Archive, uploader *Uploader) *Service {
	return &Service{archive: archive, uploader: uploader}
}

// Create commits a snapshot and mirrors it to the object store in the
// background. The backup succeeds even if the mirror upload fails.
func (s *Service) Create(snap Snapshot, author, message string) (Info, error) {
	info, err := s.archive.Commit(snap, author, message)
	if err != nil {
		return Info{}, err
	}

	if s.uploader != nil {
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("backup: marshal snapshot for upload: %v", err)
			return info, nil
		}
		key := "snapshots/" + time.Now().UTC().Format("2006-01-02T15-04-05Z") + "_" + info.Hash + ".json"
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.uploader.Upload(ctx, key, payload); err != nil {
				log.Printf("backup: mirror upload failed: %v", err)
			}
		}()
	}
	return info, nil
}

// List returns the backup history, newest first.
func (s *Service) List(limit int) ([]Info, error) {
	return s.archive.History(limit)
}

// Load returns the snapshot stored in the given backup.
func (s *Service) Load(hash string) (Snapshot, error) {
	return s.archive.SnapshotAt(hash)
}
