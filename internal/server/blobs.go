package server

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Blob is a payload offered for download.
type Blob struct {
	Name     string
	MimeType string
	Data     []byte
}

// BlobStore is the table of live download handles. A handle stays
// fetchable until it is deleted.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// Put stores b and returns its handle.
func (s *BlobStore) Put(b Blob) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = b
	s.mu.Unlock()
	return id
}

func (s *BlobStore) Get(id string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Delete drops the handle and reports whether it existed.
func (s *BlobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return false
	}
	delete(s.blobs, id)
	return true
}

// IDs returns the live handles in sorted order.
func (s *BlobStore) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.blobs))
	for id := range s.blobs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// downloads offers blobs to the browser: the handle is stored and announced
// over the hub, and revoking it deletes the blob.
type downloads struct {
	blobs *BlobStore
	hub   *Hub
}

func (d downloads) Offer(name, mimeType string, data []byte) string {
	id := d.blobs.Put(Blob{Name: name, MimeType: mimeType, Data: data})
	d.hub.Broadcast(Event{Type: EventDownload, Data: downloadEvent{URL: blobURL(id), Name: name}})
	return id
}

func (d downloads) Revoke(id string) {
	d.blobs.Delete(id)
}

func blobURL(id string) string {
	return "/api/blobs/" + id
}
