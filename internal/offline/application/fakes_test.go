package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/google/uuid"
)

var errNetwork = errors.New("network unreachable")

type fakeRemote struct {
	mu          sync.Mutex
	appts       map[uuid.UUID]booking.AppointmentState
	blocks      []*booking.Block
	hours       *booking.WorkingHours
	rest        *booking.RestConfig
	err         error
	failUpdates int
	refuse      map[uuid.UUID]error
	calls       map[string]int
}

func newFakeRemote(appts ...*booking.Appointment) *fakeRemote {
	r := &fakeRemote{
		appts:  make(map[uuid.UUID]booking.AppointmentState),
		refuse: make(map[uuid.UUID]error),
		calls:  make(map[string]int),
	}
	for _, a := range appts {
		r.appts[a.ID()] = a.State()
	}
	return r
}

func (r *fakeRemote) call(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
	return r.err
}

func (r *fakeRemote) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRemote) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *fakeRemote) get(id uuid.UUID) (booking.AppointmentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.appts[id]
	return s, ok
}

func (r *fakeRemote) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appts)
}

func (r *fakeRemote) FetchAppointments(_ context.Context, from, to time.Time, _ domain.Role) ([]*booking.Appointment, error) {
	if err := r.call("FetchAppointments"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*booking.Appointment
	for _, s := range r.appts {
		if !s.Start.Before(from) && s.Start.Before(to) {
			out = append(out, booking.RehydrateAppointment(s))
		}
	}
	return out, nil
}

func (r *fakeRemote) FetchBlocks(context.Context, time.Time, time.Time) ([]*booking.Block, error) {
	if err := r.call("FetchBlocks"); err != nil {
		return nil, err
	}
	return r.blocks, nil
}

func (r *fakeRemote) FetchWorkingHours(context.Context) (*booking.WorkingHours, error) {
	if err := r.call("FetchWorkingHours"); err != nil {
		return nil, err
	}
	return r.hours, nil
}

func (r *fakeRemote) FetchRestConfig(context.Context) (*booking.RestConfig, error) {
	if err := r.call("FetchRestConfig"); err != nil {
		return nil, err
	}
	return r.rest, nil
}

func (r *fakeRemote) PersistReschedule(_ context.Context, id uuid.UUID, newStart, newEnd time.Time) (*booking.Appointment, error) {
	if err := r.call("PersistReschedule"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	a := booking.RehydrateAppointment(s)
	if err := a.Reschedule(newStart, newEnd); err != nil {
		return nil, err
	}
	r.appts[id] = a.State()
	return a, nil
}

func (r *fakeRemote) UpsertAppointment(_ context.Context, a *booking.Appointment) (*booking.Appointment, error) {
	if err := r.call("UpsertAppointment"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID()] = a.State()
	return a.Clone(), nil
}

func (r *fakeRemote) UpdateAppointment(ctx context.Context, a *booking.Appointment) (*booking.Appointment, error) {
	if err := r.call("UpdateAppointment"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if err := r.refuse[a.ID()]; err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		r.mu.Unlock()
		return nil, errNetwork
	}
	r.appts[a.ID()] = a.State()
	r.mu.Unlock()
	return a.Clone(), nil
}

func (r *fakeRemote) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	if err := r.call("DeleteAppointment"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.appts, id)
	return nil
}

func (r *fakeRemote) Ping(context.Context) error {
	return r.call("Ping")
}

type fakeLocal struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]booking.AppointmentState
	blocks  map[uuid.UUID]booking.BlockState
	hours   *booking.WorkingHours
	rest    *booking.RestConfig
	fetched time.Time
	pending []domain.PendingChange
	parked  []domain.PendingChange
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		appts:  make(map[uuid.UUID]booking.AppointmentState),
		blocks: make(map[uuid.UUID]booking.BlockState),
	}
}

func (l *fakeLocal) store(snap domain.Snapshot) {
	for _, a := range snap.Appointments {
		l.appts[a.ID()] = a.State()
	}
	for _, b := range snap.Blocks {
		l.blocks[b.ID()] = b.State()
	}
	l.hours, l.rest, l.fetched = snap.Hours, snap.Rest, snap.FetchedAt
}

func (l *fakeLocal) ReplaceSnapshot(_ context.Context, snap domain.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appts = make(map[uuid.UUID]booking.AppointmentState)
	l.blocks = make(map[uuid.UUID]booking.BlockState)
	l.store(snap)
	return nil
}

func (l *fakeLocal) ReplaceRange(_ context.Context, snap domain.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range l.appts {
		if !s.Start.Before(snap.Range.Start) && s.Start.Before(snap.Range.End) {
			delete(l.appts, id)
		}
	}
	l.store(snap)
	return nil
}

func (l *fakeLocal) PutAppointments(_ context.Context, appts ...*booking.Appointment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range appts {
		l.appts[a.ID()] = a.State()
	}
	return nil
}

func (l *fakeLocal) LoadSnapshot(_ context.Context, from, to time.Time) (domain.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := domain.Snapshot{
		Range:     booking.TimeRange{Start: from, End: to},
		Hours:     l.hours,
		Rest:      l.rest,
		FetchedAt: l.fetched,
	}
	for _, s := range l.appts {
		if !s.Start.Before(from) && s.Start.Before(to) {
			snap.Appointments = append(snap.Appointments, booking.RehydrateAppointment(s))
		}
	}
	for _, s := range l.blocks {
		snap.Blocks = append(snap.Blocks, booking.RehydrateBlock(s))
	}
	return snap, nil
}

func (l *fakeLocal) appointment(id uuid.UUID) (booking.AppointmentState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.appts[id]
	return s, ok
}

func (l *fakeLocal) Enqueue(_ context.Context, change domain.PendingChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, change)
	sort.SliceStable(l.pending, func(i, j int) bool {
		return l.pending[i].EnqueuedAt.Before(l.pending[j].EnqueuedAt)
	})
	return nil
}

func (l *fakeLocal) Pending(_ context.Context, limit int) ([]domain.PendingChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.PendingChange(nil), l.pending[:n]...), nil
}

func (l *fakeLocal) RemovePending(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.pending {
		if c.ID == id {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *fakeLocal) MarkAttempt(_ context.Context, id uuid.UUID, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.pending {
		if l.pending[i].ID == id {
			l.pending[i].Attempts++
			l.pending[i].LastError = lastError
		}
	}
	return nil
}

func (l *fakeLocal) Park(_ context.Context, id uuid.UUID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.pending {
		if c.ID == id {
			c.LastError = reason
			l.parked = append(l.parked, c)
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *fakeLocal) Parked(_ context.Context, limit int) ([]domain.PendingChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.parked)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]domain.PendingChange(nil), l.parked[:n]...), nil
}

func (l *fakeLocal) PendingCount(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), nil
}

func (l *fakeLocal) Close() error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []booking.AppointmentRescheduled
	err    error
}

func (n *recordingNotifier) NotifyRescheduled(_ context.Context, e booking.AppointmentRescheduled) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
