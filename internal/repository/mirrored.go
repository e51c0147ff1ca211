package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/psych-forms/internal/model"
)

// Mirror operations reported in MirrorResult.Op.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"

	opFlush = "flush"
)

// Entity kinds reported in MirrorResult.Entity.
const (
	EntityUser     = "user"
	EntityForm     = "form"
	EntityResponse = "response"
)

// ErrMirrorClosed is reported for writes enqueued after Close.
var ErrMirrorClosed = errors.New("mirror closed")

// MirrorResult describes one replicated write on one mirror.
type MirrorResult struct {
	Mirror string
	Entity string
	Op     string
	ID     string
	Err    error
}

// MirrorObserver receives the outcome of every mirror write.  It may be
// called from worker goroutines.
type MirrorObserver interface {
	MirrorDone(MirrorResult)
}

// MirrorObserverFunc adapts a function to MirrorObserver.
type MirrorObserverFunc func(MirrorResult)

func (f MirrorObserverFunc) MirrorDone(r MirrorResult) { f(r) }

// LogObserver logs failed mirror writes at warn level and successful ones
// at debug level.
func LogObserver(log zerolog.Logger) MirrorObserver {
	return MirrorObserverFunc(func(r MirrorResult) {
		ev := log.Debug()
		if r.Err != nil {
			ev = log.Warn().Err(r.Err)
		}
		ev.Str("mirror", r.Mirror).Str("entity", r.Entity).Str("op", r.Op).Str("id", r.ID).Msg("mirror write")
	})
}

// Mirror is a named secondary store.
type Mirror struct {
	Name  string
	Store Store
}

// MirroredOptions configures NewMirrored.
type MirroredOptions struct {
	Mirrors []Mirror
	// Reader names the mirror reads are served from first.  Ignored when
	// Async is set, since queued writes may not have landed yet.
	Reader   string
	Observer MirrorObserver
	// Async pushes mirror writes through one ordered queue per mirror.
	Async     bool
	QueueSize int
	// WriteTimeout bounds a single mirror write.  Zero means 10s.
	WriteTimeout time.Duration
}

type mirrorJob struct {
	entity, op, id string
	apply          func(ctx context.Context, s Store) error
}

type mirrorWorker struct {
	Mirror
	jobs chan mirrorJob
}

// keyedMutex hands out one lock per entity key.  Entries are dropped when
// nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) lock(entity, id string) func() {
	key := entity + ":" + id
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Mirrored is a Store whose primary holds the authoritative state.  Each
// successful write on the primary is replayed on every mirror: the entity
// is re-read from the primary and upserted, deletes are repeated.  Mirror
// failures are reported to the observer and never returned.
//
// Writes to the same entity are serialized from the primary write through
// the mirror write (or enqueue), so a mirror applies them in the order the
// primary did.  Reads leave the reader mirror while any of its writes has
// failed and not been superseded by a successful one.
type Mirrored struct {
	primary    Store
	reader     Store
	readerName string
	workers    []*mirrorWorker
	obs        MirrorObserver
	async      bool
	timeout    time.Duration
	keys       keyedMutex

	dirtyMu sync.Mutex
	dirty   map[string]struct{} // entity keys the reader failed to apply

	mu     sync.RWMutex // guards closed against enqueue
	closed bool
	wg     sync.WaitGroup
}

var _ Store = (*Mirrored)(nil)

// NewMirrored wraps primary.  With no mirrors it behaves exactly like the
// primary.
func NewMirrored(primary Store, opts MirroredOptions) *Mirrored {
	m := &Mirrored{
		dirty:   map[string]struct{}{},
		primary: primary,
		obs:     opts.Observer,
		async:   opts.Async,
		timeout: opts.WriteTimeout,
	}
	if m.obs == nil {
		m.obs = MirrorObserverFunc(func(MirrorResult) {})
	}
	if m.timeout <= 0 {
		m.timeout = 10 * time.Second
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	for _, mir := range opts.Mirrors {
		w := &mirrorWorker{Mirror: mir}
		if m.async {
			w.jobs = make(chan mirrorJob, size)
			m.wg.Add(1)
			go m.run(w)
		}
		if !m.async && opts.Reader != "" && mir.Name == opts.Reader {
			m.reader, m.readerName = mir.Store, mir.Name
		}
		m.workers = append(m.workers, w)
	}
	return m
}

// Primary returns the authoritative store.
func (m *Mirrored) Primary() Store { return m.primary }

func (m *Mirrored) run(w *mirrorWorker) {
	defer m.wg.Done()
	for job := range w.jobs {
		if job.op == opFlush {
			_ = job.apply(context.Background(), w.Store)
			continue
		}
		m.exec(w, job)
	}
}

func (m *Mirrored) exec(w *mirrorWorker, job mirrorJob) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := job.apply(ctx, w.Store)
	if job.op == OpDelete && errors.Is(err, ErrNotFound) {
		err = nil
	}
	if m.reader != nil && w.Name == m.readerName {
		m.markReader(job.entity+":"+job.id, err)
	}
	m.obs.MirrorDone(MirrorResult{Mirror: w.Name, Entity: job.entity, Op: job.op, ID: job.id, Err: err})
}

// markReader records whether the reader holds the latest state of key.
func (m *Mirrored) markReader(key string, err error) {
	m.dirtyMu.Lock()
	defer m.dirtyMu.Unlock()
	if err != nil {
		m.dirty[key] = struct{}{}
		return
	}
	delete(m.dirty, key)
}

// readerUsable reports whether reads may be served by the reader.  Lists
// span many entities, so a single stale entity disables the reader
// entirely until it is repaired.
func (m *Mirrored) readerUsable() bool {
	if m.reader == nil {
		return false
	}
	m.dirtyMu.Lock()
	defer m.dirtyMu.Unlock()
	return len(m.dirty) == 0
}

func (m *Mirrored) replicate(job mirrorJob) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		switch {
		case m.closed:
			m.obs.MirrorDone(MirrorResult{Mirror: w.Name, Entity: job.entity, Op: job.op, ID: job.id, Err: ErrMirrorClosed})
		case m.async:
			w.jobs <- job
		default:
			m.exec(w, job)
		}
	}
}

// Close drains queued mirror writes, then closes the primary and every
// mirror.  Close errors are joined.
func (m *Mirrored) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.async {
		for _, w := range m.workers {
			close(w.jobs)
		}
	}
	m.mu.Unlock()
	m.wg.Wait()

	errs := []error{m.primary.Close()}
	for _, w := range m.workers {
		errs = append(errs, w.Store.Close())
	}
	return errors.Join(errs...)
}

// Flush blocks until every job queued so far has been applied.  It is a
// no-op for synchronous mirroring.
func (m *Mirrored) Flush() {
	if !m.async {
		return
	}
	var wg sync.WaitGroup
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	for _, w := range m.workers {
		wg.Add(1)
		w.jobs <- mirrorJob{op: opFlush, apply: func(context.Context, Store) error {
			wg.Done()
			return nil
		}}
	}
	m.mu.RUnlock()
	wg.Wait()
}

// ---- replication helpers ----

func (m *Mirrored) syncUser(ctx context.Context, id string) {
	u, err := m.primary.GetUser(ctx, id)
	if err != nil {
		m.replicate(m.deleteJob(EntityUser, id, func(ctx context.Context, s Store) error { return s.DeleteUser(ctx, id) }))
		return
	}
	m.replicate(mirrorJob{entity: EntityUser, op: OpUpsert, id: id,
		apply: func(ctx context.Context, s Store) error { return s.UpsertUser(ctx, u) }})
}

func (m *Mirrored) syncForm(ctx context.Context, id string) {
	f, err := m.primary.GetForm(ctx, id)
	if err != nil {
		m.replicate(m.deleteJob(EntityForm, id, func(ctx context.Context, s Store) error { return s.DeleteForm(ctx, id) }))
		return
	}
	m.replicate(mirrorJob{entity: EntityForm, op: OpUpsert, id: id,
		apply: func(ctx context.Context, s Store) error { return s.UpsertForm(ctx, f) }})
}

func (m *Mirrored) syncResponse(ctx context.Context, id string) {
	r, err := m.primary.GetResponse(ctx, id)
	if err != nil {
		m.replicate(m.deleteJob(EntityResponse, id, func(ctx context.Context, s Store) error { return s.DeleteResponse(ctx, id) }))
		return
	}
	m.replicate(mirrorJob{entity: EntityResponse, op: OpUpsert, id: id,
		apply: func(ctx context.Context, s Store) error { return s.UpsertResponse(ctx, r) }})
}

func (m *Mirrored) deleteJob(entity, id string, fn func(context.Context, Store) error) mirrorJob {
	return mirrorJob{entity: entity, op: OpDelete, id: id, apply: fn}
}

// readPreferred serves a read from the preferred mirror when it is in sync
// and has an answer, and falls back to the primary otherwise.
func readPreferred[T any](m *Mirrored, read func(Store) (T, error), empty func(T) bool) (T, error) {
	if m.readerUsable() {
		if v, err := read(m.reader); err == nil && !empty(v) {
			return v, nil
		}
	}
	return read(m.primary)
}

func isNil[T any](v *T) bool    { return v == nil }
func isEmpty[T any](v []T) bool { return len(v) == 0 }
func isZero(n int) bool         { return n == 0 }

// ---- users ----

func (m *Mirrored) InsertUser(ctx context.Context, u *model.User) error {
	defer m.keys.lock(EntityUser, u.ID)()
	if err := m.primary.InsertUser(ctx, u); err != nil {
		return err
	}
	m.syncUser(ctx, u.ID)
	return nil
}

func (m *Mirrored) GetUser(ctx context.Context, id string) (*model.User, error) {
	return readPreferred(m, func(s Store) (*model.User, error) { return s.GetUser(ctx, id) }, isNil[model.User])
}

func (m *Mirrored) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return readPreferred(m, func(s Store) (*model.User, error) { return s.GetUserByUsername(ctx, username) }, isNil[model.User])
}

func (m *Mirrored) ListUsers(ctx context.Context, f UserFilter) ([]*model.User, error) {
	return readPreferred(m, func(s Store) ([]*model.User, error) { return s.ListUsers(ctx, f) }, isEmpty[*model.User])
}

func (m *Mirrored) UpdateUser(ctx context.Context, id string, p UserPatch) (*model.User, error) {
	defer m.keys.lock(EntityUser, id)()
	u, err := m.primary.UpdateUser(ctx, id, p)
	if err != nil {
		return nil, err
	}
	m.syncUser(ctx, id)
	return u, nil
}

func (m *Mirrored) DeleteUser(ctx context.Context, id string) error {
	defer m.keys.lock(EntityUser, id)()
	if err := m.primary.DeleteUser(ctx, id); err != nil {
		return err
	}
	m.syncUser(ctx, id)
	return nil
}

func (m *Mirrored) UpsertUser(ctx context.Context, u *model.User) error {
	defer m.keys.lock(EntityUser, u.ID)()
	if err := m.primary.UpsertUser(ctx, u); err != nil {
		return err
	}
	m.syncUser(ctx, u.ID)
	return nil
}

// ---- forms ----

func (m *Mirrored) InsertForm(ctx context.Context, f *model.Form) error {
	defer m.keys.lock(EntityForm, f.ID)()
	if err := m.primary.InsertForm(ctx, f); err != nil {
		return err
	}
	m.syncForm(ctx, f.ID)
	return nil
}

func (m *Mirrored) GetForm(ctx context.Context, id string) (*model.Form, error) {
	return readPreferred(m, func(s Store) (*model.Form, error) { return s.GetForm(ctx, id) }, isNil[model.Form])
}

func (m *Mirrored) ListForms(ctx context.Context, f FormFilter) ([]*model.Form, error) {
	return readPreferred(m, func(s Store) ([]*model.Form, error) { return s.ListForms(ctx, f) }, isEmpty[*model.Form])
}

func (m *Mirrored) UpdateForm(ctx context.Context, id string, p FormPatch) (*model.Form, error) {
	defer m.keys.lock(EntityForm, id)()
	f, err := m.primary.UpdateForm(ctx, id, p)
	if err != nil {
		return nil, err
	}
	m.syncForm(ctx, id)
	return f, nil
}

func (m *Mirrored) DeleteForm(ctx context.Context, id string) error {
	defer m.keys.lock(EntityForm, id)()
	if err := m.primary.DeleteForm(ctx, id); err != nil {
		return err
	}
	// every backend cascades responses on its own
	m.syncForm(ctx, id)
	return nil
}

func (m *Mirrored) UpsertForm(ctx context.Context, f *model.Form) error {
	defer m.keys.lock(EntityForm, f.ID)()
	if err := m.primary.UpsertForm(ctx, f); err != nil {
		return err
	}
	m.syncForm(ctx, f.ID)
	return nil
}

// ---- responses ----

func (m *Mirrored) InsertResponse(ctx context.Context, r *model.Response) error {
	defer m.keys.lock(EntityResponse, r.ID)()
	if err := m.primary.InsertResponse(ctx, r); err != nil {
		return err
	}
	m.syncResponse(ctx, r.ID)
	return nil
}

func (m *Mirrored) GetResponse(ctx context.Context, id string) (*model.Response, error) {
	return readPreferred(m, func(s Store) (*model.Response, error) { return s.GetResponse(ctx, id) }, isNil[model.Response])
}

func (m *Mirrored) ListResponses(ctx context.Context, f ResponseFilter) ([]*model.Response, error) {
	return readPreferred(m, func(s Store) ([]*model.Response, error) { return s.ListResponses(ctx, f) }, isEmpty[*model.Response])
}

func (m *Mirrored) DeleteResponse(ctx context.Context, id string) error {
	defer m.keys.lock(EntityResponse, id)()
	if err := m.primary.DeleteResponse(ctx, id); err != nil {
		return err
	}
	m.syncResponse(ctx, id)
	return nil
}

func (m *Mirrored) UpsertResponse(ctx context.Context, r *model.Response) error {
	defer m.keys.lock(EntityResponse, r.ID)()
	if err := m.primary.UpsertResponse(ctx, r); err != nil {
		return err
	}
	m.syncResponse(ctx, r.ID)
	return nil
}

func (m *Mirrored) CountResponsesForForm(ctx context.Context, formID string) (int, error) {
	return readPreferred(m, func(s Store) (int, error) { return s.CountResponsesForForm(ctx, formID) }, isZero)
}

func (m *Mirrored) FindResponse(ctx context.Context, formID, patientID string) (*model.Response, error) {
	return readPreferred(m, func(s Store) (*model.Response, error) { return s.FindResponse(ctx, formID, patientID) }, isNil[model.Response])
}
