package commit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/ftindex/blobstore"
	"github.com/hupe1980/ftindex/codec"
	"github.com/hupe1980/ftindex/internal/compress"
	"github.com/hupe1980/ftindex/internal/envelope"
	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

const (
	CommitFilePrefix = "COMMIT"
	CurrentFileName  = "CURRENT"
	PacketFilePrefix = "updates"
	// CurrentVersion is the version of the commit point format.
	CurrentVersion = 1
)

// CommitFileName returns the blob name of commit generation gen.
func CommitFileName(gen uint64) string {
	return fmt.Sprintf("%s-%06d.bin", CommitFilePrefix, gen)
}

// PacketFileName returns the blob name of the update packet with delete
// generation gen.
func PacketFileName(gen int64) string {
	return fmt.Sprintf("%s-%06d.bin", PacketFilePrefix, gen)
}

// Point describes the published state of an index at commit time.
type Point struct {
	Version   int                 `json:"version"`
	Gen       uint64              `json:"gen"`
	CreatedAt time.Time           `json:"created_at"`
	Segments  []model.SegmentInfo `json:"segments"`
	// UpdatePackets lists the published global update packets that still
	// have to be applied to older segments, ordered by delete generation.
	UpdatePackets []PacketRef `json:"update_packets"`
	NextDelGen    int64       `json:"next_del_gen"`
	NextSegment   int64       `json:"next_segment"`
}

// PacketRef points to a persisted update packet.
type PacketRef struct {
	Gen  int64  `json:"gen"`
	Name string `json:"name"`
}

// Packet is the persisted form of a published update packet. Queries are
// recorded by key only.
type Packet struct {
	Gen            int64                  `json:"gen"`
	Terms          []updates.TermDelete   `json:"terms,omitempty"`
	Queries        []updates.QueryDelete  `json:"queries,omitempty"`
	NumericUpdates []updates.NumericEntry `json:"numeric_updates,omitempty"`
	BinaryUpdates  []updates.BinaryEntry  `json:"binary_updates,omitempty"`
}

// NewPacket converts a published frozen packet.
func NewPacket(f *updates.Frozen) *Packet {
	return &Packet{
		Gen:            f.Gen(),
		Terms:          f.Terms(),
		Queries:        f.Queries(),
		NumericUpdates: f.NumericUpdates(),
		BinaryUpdates:  f.BinaryUpdates(),
	}
}

// Store persists commit points and update packets. Save writes the commit
// blob first and then swings CURRENT to it.
type Store struct {
	store       blobstore.BlobStore
	codec       codec.Codec
	compression compress.Type
	mu          sync.Mutex
}

// NewStore creates a new commit store.
func NewStore(store blobstore.BlobStore, c codec.Codec, compression compress.Type) *Store {
	return &Store{store: store, codec: c, compression: compression}
}

// Load loads the current commit point.
func (s *Store) Load(ctx context.Context) (*Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.Get(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.loadLocked(ctx, strings.TrimSpace(string(b)))
}

// LoadGen loads commit generation gen.
func (s *Store) LoadGen(ctx context.Context, gen uint64) (*Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, CommitFileName(gen))
}

func (s *Store) loadLocked(ctx context.Context, name string) (*Point, error) {
	b, err := s.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read commit point %s: %w", name, err)
	}
	var p Point
	if err := envelope.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("commit point %s: %w", name, err)
	}
	if p.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, p.Version)
	}
	return &p, nil
}

// Save assigns the next generation to p and persists it. It returns the
// size of the written commit blob.
func (s *Store) Save(ctx context.Context, p *Point) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Version = CurrentVersion
	p.Gen++
	p.CreatedAt = time.Now()

	blob, err := envelope.Marshal(s.codec, s.compression, p)
	if err != nil {
		return 0, err
	}

	name := CommitFileName(p.Gen)
	if err := s.store.Put(ctx, name, blob); err != nil {
		return 0, err
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		return 0, err
	}
	return len(blob), nil
}

// ListGens returns every persisted commit generation in ascending order.
func (s *Store) ListGens(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, CommitFilePrefix+"-")
	if err != nil {
		return nil, err
	}
	gens := make([]uint64, 0, len(names))
	for _, name := range names {
		digits := strings.TrimSuffix(strings.TrimPrefix(name, CommitFilePrefix+"-"), ".bin")
		gen, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			continue // Not a commit blob
		}
		gens = append(gens, gen)
	}
	slices.Sort(gens)
	return gens, nil
}

// DeleteGen deletes commit generation gen.
func (s *Store) DeleteGen(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, CommitFileName(gen))
}

// WritePacket persists a published packet and returns its reference and
// blob size.
func (s *Store) WritePacket(ctx context.Context, f *updates.Frozen) (PacketRef, int, error) {
	if f.Gen() < 0 {
		return PacketRef{}, 0, fmt.Errorf("commit: packet %s has no delete generation", f)
	}
	blob, err := envelope.Marshal(s.codec, s.compression, NewPacket(f))
	if err != nil {
		return PacketRef{}, 0, err
	}
	ref := PacketRef{Gen: f.Gen(), Name: PacketFileName(f.Gen())}
	if err := s.store.Put(ctx, ref.Name, blob); err != nil {
		return PacketRef{}, 0, fmt.Errorf("commit: write packet %d: %w", ref.Gen, err)
	}
	return ref, len(blob), nil
}

// ReadPacket loads a persisted packet.
func (s *Store) ReadPacket(ctx context.Context, ref PacketRef) (*Packet, error) {
	b, err := s.store.Get(ctx, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("commit: read packet %d: %w", ref.Gen, err)
	}
	var p Packet
	if err := envelope.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("commit: packet %d: %w", ref.Gen, err)
	}
	return &p, nil
}
