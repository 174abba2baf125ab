// Package store orchestrates the lifecycle of one encrypted database: unlock and
// lock, master-password changes, item mutations, batching and metadata sync.
//
// Every access to the key and the trunk is funnelled through a per-Store serial
// queue. Public methods may be called from any goroutine, and from observers
// running on the queue, without deadlocking.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/descriptor"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/limiter"
	"github.com/and161185/gophstore/internal/metadata"
	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/trunk"
)

// State is the lifecycle state of a Store.
type State int32

const (
	StateNull State = iota
	StateLocked
	StateUnlocked
	StateDamaged
	StateUnsupportedVersion
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateDamaged:
		return "damaged"
	case StateUnsupportedVersion:
		return "unsupported-version"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type options struct {
	log      *zap.Logger
	kdf      crypto.KDFParams
	limiter  limiter.Limiter
	now      func() time.Time
	readOnly bool
	payloads metadata.PayloadSource
	delegate Delegate
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithKDFParams sets the derivation parameters for databases created or re-keyed by this Store.
func WithKDFParams(p crypto.KDFParams) Option { return func(o *options) { o.kdf = p } }

// WithLimiter throttles unlock attempts.
func WithLimiter(l limiter.Limiter) Option { return func(o *options) { o.limiter = l } }

// WithClock overrides the time source used for item timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithReadOnly rejects every mutation with errs.ErrReadOnly.
func WithReadOnly() Option { return func(o *options) { o.readOnly = true } }

// WithPayloadSource lets metadata merge insert full items instead of pending stubs.
func WithPayloadSource(src metadata.PayloadSource) Option {
	return func(o *options) { o.payloads = src }
}

// WithDelegate installs hooks fired around every blob write.
func WithDelegate(d Delegate) Option { return func(o *options) { o.delegate = d } }

// Store is one open database.
type Store struct {
	raw  repository.BlobRepository
	repo repository.BlobRepository
	opts options
	log  *zap.Logger
	q    *queue

	state          atomic.Int32
	preventWriting atomic.Bool

	obsMu     sync.Mutex
	observers map[int]Observer
	obsNext   int

	// owned by the queue
	key     []byte
	desc    descriptor.Descriptor
	tr      *trunk.Trunk
	eng     *metadata.Engine
	savedAt int64
	batch   *changes
	rekeyed bool     // blocks still sealed under a replaced key
	orphans []string // attachments of deleted items, removed after the next trunk save
}

// New opens a Store over repo. Call Load before anything else, and Close when done.
func New(repo repository.BlobRepository, opts ...Option) *Store {
	o := options{
		log: zap.NewNop(),
		kdf: crypto.DefaultKDFParams(),
		now: time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	s := &Store{
		raw:       repo,
		opts:      o,
		log:       o.log.With(zap.String("db", repo.Root())),
		q:         newQueue(),
		observers: make(map[int]Observer),
	}
	s.repo = &hookedRepo{BlobRepository: repo, delegate: o.delegate, log: s.log}
	return s
}

// State returns the current lifecycle state.
func (s *Store) State() State { return State(s.state.Load()) }

func (s *Store) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.log.Info("store state", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

// DatabasePath returns the database root of the underlying driver.
func (s *Store) DatabasePath() string { return s.raw.Root() }

// SetPreventWriting temporarily rejects mutations, e.g. while a backup copies the files.
func (s *Store) SetPreventWriting(v bool) { s.preventWriting.Store(v) }

// Exists reports whether salt and descriptor are present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	return call(ctx, s.q, s.exists)
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	for _, name := range []string{repository.NameSalt, repository.NameDescriptor} {
		ok, err := s.raw.Exists(ctx, name)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Load finishes or discards an interrupted password change and moves the
// store to Locked when a database exists, Null otherwise.
func (s *Store) Load(ctx context.Context) (State, error) {
	return call(ctx, s.q, func(ctx context.Context) (State, error) {
		if s.State() == StateUnlocked {
			return StateUnlocked, nil
		}
		if !s.opts.readOnly {
			if err := s.recoverStaging(ctx); err != nil {
				return s.State(), err
			}
		}
		ok, err := s.exists(ctx)
		if err != nil {
			return s.State(), err
		}
		if ok {
			s.setState(StateLocked)
		} else {
			s.setState(StateNull)
		}
		return s.State(), nil
	})
}

// Create initializes a new database under password and leaves it unlocked.
// A nil dbuuid gets a fresh random identifier. It returns the sealed
// descriptor as written; Descriptor gives the plaintext view.
func (s *Store) Create(ctx context.Context, password []byte, dbuuid uuid.UUID) (box.Blob, error) {
	if s.opts.readOnly {
		return box.Blob{}, errs.ErrReadOnly
	}
	if err := s.opts.kdf.Validate(); err != nil {
		return box.Blob{}, err
	}
	if ok, err := s.Exists(ctx); err != nil {
		return box.Blob{}, err
	} else if ok {
		return box.Blob{}, errs.ErrAlreadyExists
	}
	if dbuuid == uuid.Nil {
		var err error
		if dbuuid, err = uuid.NewV4(); err != nil {
			return box.Blob{}, err
		}
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return box.Blob{}, err
	}
	key := crypto.DeriveKey(password, salt, s.opts.kdf)

	return call(ctx, s.q, func(ctx context.Context) (box.Blob, error) {
		defer crypto.Zero(key)
		if ok, err := s.exists(ctx); err != nil {
			return box.Blob{}, err
		} else if ok {
			return box.Blob{}, errs.ErrAlreadyExists
		}

		d := descriptor.New(dbuuid, s.opts.now())
		blob, err := descriptor.Seal(d, key, nil)
		if err != nil {
			return box.Blob{}, err
		}
		descData, err := descriptor.EncodeBlob(blob)
		if err != nil {
			return box.Blob{}, err
		}
		saltData, err := descriptor.EncodeSalt(descriptor.SaltRecord{Salt: salt, KDF: s.opts.kdf})
		if err != nil {
			return box.Blob{}, err
		}

		tr := trunk.New()
		eng, err := metadata.NewEngine(s.repo, key, d, s.log)
		if err != nil {
			return box.Blob{}, err
		}
		s.install(key, d, tr, eng)

		// descriptor last: the database only exists once it is written
		if err := s.saveTrunk(ctx); err != nil {
			s.wipe()
			return box.Blob{}, err
		}
		if err := s.repo.Write(ctx, repository.NameSalt, saltData); err != nil {
			s.wipe()
			return box.Blob{}, err
		}
		if err := s.repo.Write(ctx, repository.NameDescriptor, descData); err != nil {
			s.wipe()
			return box.Blob{}, err
		}
		if err := eng.RebuildAll(ctx, tr); err != nil {
			s.log.Warn("initial metadata not written", zap.Error(err))
		}
		s.setState(StateUnlocked)
		s.log.Info("database created", zap.Stringer("db_uuid", d.DBUUID))
		return blob, nil
	})
}

func (s *Store) newEngine(key []byte) (*metadata.Engine, error) {
	return metadata.NewEngine(s.repo, key, s.desc, s.log)
}

// install takes ownership of a copy of key.
func (s *Store) install(key []byte, d descriptor.Descriptor, tr *trunk.Trunk, eng *metadata.Engine) {
	s.key = append([]byte(nil), key...)
	s.desc = d
	s.tr = tr
	s.eng = eng
	s.savedAt = -1
	s.batch = nil
}

// wipe drops the key and the trunk and leaves nothing derived from them reachable.
func (s *Store) wipe() {
	crypto.Zero(s.key)
	s.key = nil
	if s.eng != nil {
		s.eng.Wipe()
		s.eng = nil
	}
	if s.tr != nil {
		s.tr.Wipe()
		s.tr = nil
	}
	s.desc = descriptor.Descriptor{}
	s.batch = nil
	s.savedAt = 0
	s.orphans = nil
}

func (s *Store) readSalt(ctx context.Context) (descriptor.SaltRecord, error) {
	data, err := s.raw.Read(ctx, repository.NameSalt)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return descriptor.SaltRecord{}, err
		}
		return descriptor.SaltRecord{}, fmt.Errorf("read salt: %w", err)
	}
	return descriptor.DecodeSalt(data)
}

// Unlock derives the key from password and opens the database. The returned key
// may be cached by the caller for UnlockWithKey; the caller must zero it.
func (s *Store) Unlock(ctx context.Context, password []byte) ([]byte, error) {
	if err := s.allow(ctx); err != nil {
		return nil, err
	}
	rec, err := call(ctx, s.q, s.readSaltChecked)
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(password, rec.Salt, rec.KDF)
	defer crypto.Zero(key)

	out, err := s.UnlockWithKey(ctx, key)
	s.record(ctx, err)
	return out, err
}

func (s *Store) readSaltChecked(ctx context.Context) (descriptor.SaltRecord, error) {
	if err := s.terminal(); err != nil {
		return descriptor.SaltRecord{}, err
	}
	if err := s.settleStaging(ctx); err != nil {
		return descriptor.SaltRecord{}, err
	}
	rec, err := s.readSalt(ctx)
	switch {
	case errors.Is(err, errs.ErrUnsupportedVersion):
		s.setState(StateUnsupportedVersion)
	case errors.Is(err, errs.ErrDamaged):
		s.setState(StateDamaged)
	}
	return rec, err
}

// settleStaging finishes a password change this instance could not commit.
func (s *Store) settleStaging(ctx context.Context) error {
	if s.State() != StateLocked || s.opts.readOnly {
		return nil
	}
	return s.recoverStaging(ctx)
}

func (s *Store) terminal() error {
	switch s.State() {
	case StateDamaged:
		return errs.ErrDamaged
	case StateUnsupportedVersion:
		return errs.ErrUnsupportedVersion
	}
	return nil
}

// UnlockWithKey opens the database with an already derived key. A key of the
// wrong size is rejected as a wrong password and never marks the store damaged.
func (s *Store) UnlockWithKey(ctx context.Context, key []byte) ([]byte, error) {
	return call(ctx, s.q, func(ctx context.Context) ([]byte, error) {
		if err := s.terminal(); err != nil {
			return nil, err
		}
		if len(key) != crypto.KeyLen {
			return nil, fmt.Errorf("key of %d bytes: %w", len(key), errs.ErrWrongPassword)
		}
		if s.State() == StateNull {
			ok, err := s.exists(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("no database: %w", errs.ErrNotFound)
			}
		}
		if err := s.settleStaging(ctx); err != nil {
			return nil, err
		}
		if s.State() == StateUnlocked {
			if !crypto.Equal(key, s.key) {
				return nil, errs.ErrWrongPassword
			}
			return append([]byte(nil), s.key...), nil
		}

		d, err := s.openDescriptor(ctx, key)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		data, err := s.raw.Read(ctx, repository.NameTrunk)
		if err != nil {
			return nil, s.classify(ctx, fmt.Errorf("trunk: %w", errs.ErrDamaged))
		}
		plain, err := descriptor.OpenBlob(data, key)
		if err != nil {
			// the descriptor opened, so a trunk that does not is damage, not a wrong password
			return nil, s.classify(ctx, fmt.Errorf("trunk: %w", errs.ErrDamaged))
		}
		tr, err := trunk.Unmarshal(plain)
		crypto.Zero(plain)
		if err != nil {
			return nil, s.classify(ctx, err)
		}
		eng, err := metadata.NewEngine(s.repo, key, d, s.log)
		if err != nil {
			tr.Wipe()
			return nil, err
		}
		s.install(key, d, tr, eng)
		s.savedAt = tr.UpdatedAt()
		s.setState(StateUnlocked)
		if s.rekeyed && s.writable() == nil {
			if err := eng.RebuildAll(ctx, tr); err != nil {
				s.log.Warn("metadata rebuild after password change failed", zap.Error(err))
			} else {
				s.rekeyed = false
			}
		}
		s.log.Info("unlocked", zap.Int("items", tr.Len()))
		return append([]byte(nil), key...), nil
	})
}

func (s *Store) openDescriptor(ctx context.Context, key []byte) (descriptor.Descriptor, error) {
	data, err := s.raw.Read(ctx, repository.NameDescriptor)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return descriptor.Descriptor{}, fmt.Errorf("descriptor: %w", errs.ErrDamaged)
		}
		return descriptor.Descriptor{}, err
	}
	blob, err := descriptor.DecodeBlob(data)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	return descriptor.Open(blob, key)
}

// classify turns an unlock failure into the state transition it implies.
// A wrong password on a store that fails structural checks is damage.
func (s *Store) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrWrongPassword):
		if verr := metadata.Verify(ctx, s.raw); verr != nil {
			s.log.Warn("store failed integrity check", zap.Error(verr))
			s.setState(StateDamaged)
			return errs.ErrDamaged
		}
	case errors.Is(err, errs.ErrUnsupportedVersion):
		s.setState(StateUnsupportedVersion)
	case errors.Is(err, errs.ErrDamaged):
		s.setState(StateDamaged)
	}
	return err
}

func (s *Store) allow(ctx context.Context) error {
	if s.opts.limiter == nil {
		return nil
	}
	ok, retry, err := s.opts.limiter.Allow(ctx, s.raw.Root())
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return fmt.Errorf("retry in %s: %w", retry.Round(time.Second), errs.ErrRateLimited)
	}
	return nil
}

func (s *Store) record(ctx context.Context, unlockErr error) {
	if s.opts.limiter == nil {
		return
	}
	var err error
	switch {
	case unlockErr == nil:
		err = s.opts.limiter.Success(ctx, s.raw.Root())
	case errors.Is(unlockErr, errs.ErrWrongPassword):
		var blocked bool
		blocked, _, err = s.opts.limiter.Failure(ctx, s.raw.Root())
		if blocked {
			s.log.Warn("unlock temporarily blocked after repeated wrong passwords")
		}
	}
	if err != nil {
		s.log.Warn("limiter update failed", zap.Error(err))
	}
}

// VerifyMasterPassword checks password without changing any state and returns the derived key.
func (s *Store) VerifyMasterPassword(ctx context.Context, password []byte) ([]byte, error) {
	rec, err := call(ctx, s.q, func(ctx context.Context) (descriptor.SaltRecord, error) {
		if err := s.terminal(); err != nil {
			return descriptor.SaltRecord{}, err
		}
		return s.readSalt(ctx)
	})
	if err != nil {
		return nil, err
	}
	key := crypto.DeriveKey(password, rec.Salt, rec.KDF)
	_, err = call(ctx, s.q, func(ctx context.Context) (descriptor.Descriptor, error) {
		return s.openDescriptor(ctx, key)
	})
	if err != nil {
		crypto.Zero(key)
		return nil, err
	}
	return key, nil
}

// Lock persists pending changes and discards the key and the trunk.
func (s *Store) Lock(ctx context.Context) error {
	return s.q.Do(ctx, func(ctx context.Context) error {
		if s.State() != StateUnlocked {
			return nil
		}
		var err error
		if s.writable() == nil {
			c := s.batch
			if c == nil {
				c = newChanges()
			}
			s.batch = nil
			err = s.persist(ctx, c)
		}
		s.wipe()
		s.setState(StateLocked)
		return err
	})
}

// Close locks the store and stops its queue. It must not be called from an observer.
func (s *Store) Close(ctx context.Context) error {
	err := s.Lock(ctx)
	if errors.Is(err, errs.ErrClosed) {
		err = nil
	}
	s.q.close()
	return err
}

// Descriptor returns the descriptor of the unlocked database.
func (s *Store) Descriptor(ctx context.Context) (descriptor.Descriptor, error) {
	return call(ctx, s.q, func(context.Context) (descriptor.Descriptor, error) {
		if err := s.unlocked(); err != nil {
			return descriptor.Descriptor{}, err
		}
		return s.desc, nil
	})
}

func (s *Store) unlocked() error {
	if s.State() != StateUnlocked {
		return errs.ErrNotUnlocked
	}
	return nil
}

func (s *Store) writable() error {
	if err := s.unlocked(); err != nil {
		return err
	}
	if s.opts.readOnly || s.preventWriting.Load() {
		return errs.ErrReadOnly
	}
	return nil
}
