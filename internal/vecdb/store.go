package vecdb

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// libraryEntry is the authoritative state for one library: its metadata,
// its documents and chunks, and its index facade, all protected by one
// per-library lock. Go has no native reentrant mutex, so operations that
// would need to re-enter a held lock instead extract a read-locked
// snapshot, do unlocked work (e.g. building a new index), and take the
// write lock again only to install the result — see IndexLibrary and
// SwitchAlgorithm in index_ops.go.
type libraryEntry struct {
	mu sync.RWMutex

	library   Library
	documents map[string]*Document
	chunks    map[string]*Chunk // chunk_id -> chunk, across all documents in this library
	index     *IndexFacade
}

// Store is the process-wide, thread-safe vector database. Lock order is
// always setMu before any libraryEntry.mu. No operation holds more than one
// libraryEntry lock at a time: a snapshot read-locks each library
// separately, from concurrent goroutines and in no fixed order, so the
// libraries in one snapshot are not captured at a single common instant.
type Store struct {
	setMu     sync.RWMutex
	libraries map[string]*libraryEntry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		libraries: make(map[string]*libraryEntry),
	}
}

// CreateLibraryInput describes a new library to create.
type CreateLibraryInput struct {
	ID       string // optional; minted if empty
	Metadata Metadata
}

func (s *Store) CreateLibrary(in CreateLibraryInput) (Library, error) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.libraries[id]; exists {
		return Library{}, duplicateID("library %q already exists", id)
	}

	now := time.Now().UTC()
	entry := &libraryEntry{
		library: Library{
			ID:        id,
			Metadata:  in.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		},
		documents: make(map[string]*Document),
		chunks:    make(map[string]*Chunk),
		index:     NewIndexFacade(),
	}
	s.libraries[id] = entry
	return entry.library, nil
}

func (s *Store) GetLibrary(libraryID string) (Library, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Library{}, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.library, nil
}

func (s *Store) ListLibraries() []Library {
	s.setMu.RLock()
	defer s.setMu.RUnlock()

	out := make([]Library, 0, len(s.libraries))
	for _, entry := range s.libraries {
		entry.mu.RLock()
		out = append(out, entry.library)
		entry.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateLibraryMetadata(libraryID string, metadata Metadata) (Library, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Library{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.library.Metadata = metadata
	entry.library.UpdatedAt = time.Now().UTC()
	return entry.library, nil
}

// DeleteLibrary cascades: every document and chunk owned by the library is
// removed atomically under the library's own lock before the library is
// dropped from the set.
func (s *Store) DeleteLibrary(libraryID string) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	entry, exists := s.libraries[libraryID]
	if !exists {
		return notFound("library %q not found", libraryID)
	}

	entry.mu.Lock()
	entry.documents = nil
	entry.chunks = nil
	entry.mu.Unlock()

	delete(s.libraries, libraryID)
	return nil
}

func (s *Store) lookupLibrary(libraryID string) (*libraryEntry, error) {
	s.setMu.RLock()
	defer s.setMu.RUnlock()

	entry, exists := s.libraries[libraryID]
	if !exists {
		return nil, notFound("library %q not found", libraryID)
	}
	return entry, nil
}

// CreateDocumentInput describes a new document, optionally with chunks to
// insert in the same all-or-nothing operation.
type CreateDocumentInput struct {
	ID       string
	Title    string
	Metadata Metadata
	Chunks   []CreateChunkInput
}

func (s *Store) CreateDocument(libraryID string, in CreateDocumentInput) (Document, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Document{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := entry.documents[id]; exists {
		return Document{}, duplicateID("document %q already exists in library %q", id, libraryID)
	}

	if err := entry.validateNewChunks(in.Chunks); err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:        id,
		LibraryID: libraryID,
		Title:     in.Title,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	newChunks := entry.buildChunks(doc, in.Chunks, now)

	// Nothing below this point can fail, so the all-or-nothing contract
	// holds: every prior check has already run.
	entry.documents[id] = doc
	for _, c := range newChunks {
		entry.chunks[c.ID] = c
		doc.ChunkOrder = append(doc.ChunkOrder, c.ID)
		if err := entry.index.OnChunkAdded(c.ID, c.Embedding); err != nil {
			return Document{}, internalError("index out of sync after document create: %v", err)
		}
	}

	return *doc, nil
}

func (s *Store) GetDocument(libraryID, documentID string) (Document, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Document{}, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return Document{}, notFound("document %q not found in library %q", documentID, libraryID)
	}
	return *doc, nil
}

func (s *Store) ListDocuments(libraryID string) ([]Document, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	out := make([]Document, 0, len(entry.documents))
	for _, doc := range entry.documents {
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateDocument(libraryID, documentID string, title string, metadata Metadata) (Document, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Document{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return Document{}, notFound("document %q not found in library %q", documentID, libraryID)
	}

	doc.Title = title
	doc.Metadata = metadata
	doc.UpdatedAt = time.Now().UTC()
	return *doc, nil
}

// DeleteDocument cascades to every chunk owned by the document, including
// removing them from the library's index if one is active.
func (s *Store) DeleteDocument(libraryID, documentID string) error {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return notFound("document %q not found in library %q", documentID, libraryID)
	}

	for _, chunkID := range doc.ChunkOrder {
		if err := entry.index.OnChunkRemoved(chunkID); err != nil && KindOf(err) != KindNotFound {
			return internalError("index out of sync removing chunk %q: %v", chunkID, err)
		}
		delete(entry.chunks, chunkID)
	}
	delete(entry.documents, documentID)
	return nil
}

// CreateChunkInput describes a single chunk to insert.
type CreateChunkInput struct {
	ID        string
	Text      string
	Embedding []float64
	Metadata  Metadata
}

func (s *Store) CreateChunk(libraryID, documentID string, in CreateChunkInput) (Chunk, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Chunk{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return Chunk{}, notFound("document %q not found in library %q", documentID, libraryID)
	}

	if err := entry.validateNewChunks([]CreateChunkInput{in}); err != nil {
		return Chunk{}, err
	}

	now := time.Now().UTC()
	c := entry.buildChunks(doc, []CreateChunkInput{in}, now)[0]

	entry.chunks[c.ID] = c
	doc.ChunkOrder = append(doc.ChunkOrder, c.ID)
	doc.UpdatedAt = now
	if err := entry.index.OnChunkAdded(c.ID, c.Embedding); err != nil {
		return Chunk{}, internalError("index out of sync after chunk create: %v", err)
	}

	return *c, nil
}

// CreateChunksBulk inserts every candidate or none: uniqueness and
// dimension are validated against the current library state and the batch
// itself before any chunk is stored.
func (s *Store) CreateChunksBulk(libraryID, documentID string, ins []CreateChunkInput) ([]Chunk, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return nil, notFound("document %q not found in library %q", documentID, libraryID)
	}

	if err := entry.validateNewChunks(ins); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chunks := entry.buildChunks(doc, ins, now)

	for _, c := range chunks {
		entry.chunks[c.ID] = c
		doc.ChunkOrder = append(doc.ChunkOrder, c.ID)
		if err := entry.index.OnChunkAdded(c.ID, c.Embedding); err != nil {
			return nil, internalError("index out of sync during bulk create: %v", err)
		}
	}
	doc.UpdatedAt = now

	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = *c
	}
	return out, nil
}

func (s *Store) GetChunk(libraryID, documentID, chunkID string) (Chunk, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Chunk{}, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	c, exists := entry.chunks[chunkID]
	if !exists || c.DocumentID != documentID {
		return Chunk{}, notFound("chunk %q not found in document %q", chunkID, documentID)
	}
	return *c, nil
}

func (s *Store) ListChunks(libraryID, documentID string) ([]Chunk, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	doc, exists := entry.documents[documentID]
	if !exists {
		return nil, notFound("document %q not found in library %q", documentID, libraryID)
	}

	out := make([]Chunk, 0, len(doc.ChunkOrder))
	for _, id := range doc.ChunkOrder {
		out = append(out, *entry.chunks[id])
	}
	return out, nil
}

// ChunkCount returns the total number of chunks across every document in
// the library.
func (s *Store) ChunkCount(libraryID string) (int, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return 0, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return len(entry.chunks), nil
}

func (s *Store) UpdateChunk(libraryID, documentID, chunkID string, text string, embedding []float64, metadata Metadata) (Chunk, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Chunk{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c, exists := entry.chunks[chunkID]
	if !exists || c.DocumentID != documentID {
		return Chunk{}, notFound("chunk %q not found in document %q", chunkID, documentID)
	}

	if text == "" {
		return Chunk{}, invalidArgument("chunk text must not be empty")
	}
	if entry.library.Dimension != 0 && len(embedding) != entry.library.Dimension {
		return Chunk{}, dimensionMismatch("chunk embedding has dimension %d, library dimension is %d", len(embedding), entry.library.Dimension)
	}
	if _, err := normalize(embedding); err != nil {
		return Chunk{}, err
	}

	c.Text = text
	c.Embedding = embedding
	c.Metadata = metadata
	c.UpdatedAt = time.Now().UTC()

	if err := entry.index.OnChunkUpdated(chunkID, embedding); err != nil {
		return Chunk{}, internalError("index out of sync after chunk update: %v", err)
	}

	return *c, nil
}

func (s *Store) DeleteChunk(libraryID, documentID, chunkID string) error {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	c, exists := entry.chunks[chunkID]
	if !exists || c.DocumentID != documentID {
		return notFound("chunk %q not found in document %q", chunkID, documentID)
	}

	doc := entry.documents[documentID]
	for i, id := range doc.ChunkOrder {
		if id == chunkID {
			doc.ChunkOrder = append(doc.ChunkOrder[:i], doc.ChunkOrder[i+1:]...)
			break
		}
	}
	delete(entry.chunks, chunkID)
	doc.UpdatedAt = time.Now().UTC()

	if err := entry.index.OnChunkRemoved(chunkID); err != nil {
		return internalError("index out of sync after chunk delete: %v", err)
	}
	return nil
}

// validateNewChunks checks dimension consistency and id uniqueness for a
// batch of candidate chunks against the current library state and against
// each other, without mutating anything. Call this before buildChunks so a
// bulk operation can fail with zero visible effect.
func (e *libraryEntry) validateNewChunks(ins []CreateChunkInput) error {
	seenInBatch := make(map[string]struct{}, len(ins))
	dimension := e.library.Dimension

	for _, in := range ins {
		if in.Text == "" {
			return invalidArgument("chunk text must not be empty")
		}
		if dimension == 0 {
			dimension = len(in.Embedding)
		} else if len(in.Embedding) != dimension {
			return dimensionMismatch("chunk embedding has dimension %d, library dimension is %d", len(in.Embedding), dimension)
		}
		if _, err := normalize(in.Embedding); err != nil {
			return err
		}

		if in.ID != "" {
			if _, exists := e.chunks[in.ID]; exists {
				return duplicateID("chunk %q already exists in library", in.ID)
			}
			if _, exists := seenInBatch[in.ID]; exists {
				return duplicateID("chunk %q duplicated within batch", in.ID)
			}
			seenInBatch[in.ID] = struct{}{}
		}
	}
	return nil
}

// buildChunks mints ids and constructs Chunk values for a batch that has
// already passed validateNewChunks. It also fixes the library's dimension
// on first insertion.
func (e *libraryEntry) buildChunks(doc *Document, ins []CreateChunkInput, now time.Time) []*Chunk {
	out := make([]*Chunk, 0, len(ins))
	for _, in := range ins {
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}

		out = append(out, &Chunk{
			ID:         id,
			DocumentID: doc.ID,
			LibraryID:  e.library.ID,
			Text:       in.Text,
			Embedding:  in.Embedding,
			Metadata:   in.Metadata,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if e.library.Dimension == 0 && len(out) > 0 {
		e.library.Dimension = len(out[0].Embedding)
	}
	return out
}
