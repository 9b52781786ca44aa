package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-patient-flow/internal/config"
	"github.com/hackgods/dental-patient-flow/internal/logging"
	redisclient "github.com/hackgods/dental-patient-flow/internal/redis"
)

const testLocation = "seremban"

var testTZ = time.FixedZone("MYT", 8*60*60)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	fails bool
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	if n.fails {
		return assert.AnError
	}
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Type)
	}
	return out
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	repo      *MemoryRepository
	svc       *Service
	clock     *testClock
	notifier  *recordingNotifier
	treatment Treatment
}

func testConfig() config.Config {
	return config.Config{
		Timezone:           testTZ,
		OpeningHour:        9,
		ClosingHour:        18,
		SlotStep:           15 * time.Minute,
		DefaultPhoneRegion: "MY",
	}
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, testTZ)}
	repo := NewMemoryRepository()
	repo.now = clock.Now
	notifier := &recordingNotifier{}

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		repo:     repo,
		clock:    clock,
		notifier: notifier,
	}
	f.svc = NewService(repo, nil, cfg,
		WithClock(clock.Now),
		WithNotifier(notifier),
		WithLogger(logging.Discard()),
	)

	f.treatment = Treatment{Name: "Scaling", DurationMinutes: 30}
	require.NoError(t, repo.CreateTreatment(f.ctx, &f.treatment))
	return f
}

func (f *fixture) room(label string) Room {
	f.t.Helper()
	r := Room{Location: testLocation, Label: label, IsActive: true}
	require.NoError(f.t, f.repo.CreateRoom(f.ctx, &r))
	return r
}

func (f *fixture) dentist(name string) Dentist {
	f.t.Helper()
	d := Dentist{Location: testLocation, Name: name}
	require.NoError(f.t, f.repo.CreateDentist(f.ctx, &d))
	return d
}

// book stores an appointment for today directly, bypassing booking rules.
func (f *fixture) book(status Status, dentistID *uuid.UUID) Appointment {
	f.t.Helper()
	a := Appointment{
		ID:           uuid.New(),
		Location:     testLocation,
		ServiceID:    f.treatment.ID,
		DentistID:    dentistID,
		PatientName:  "Patient " + uuid.NewString()[:4],
		PatientPhone: "+60123456789",
		VisitCode:    newVisitCode(),
		Date:         f.svc.Today(),
		StartTime:    11 * time.Hour,
		Status:       status,
	}
	err := f.repo.InTx(f.ctx, testLocation, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, &a)
	})
	require.NoError(f.t, err)
	return a
}

// arrive books and checks in a patient, then moves the clock so the next
// arrival has a later check-in time.
func (f *fixture) arrive(dentistID *uuid.UUID) (Appointment, QueueEntry) {
	f.t.Helper()
	a := f.book(StatusBooked, dentistID)
	res, err := f.svc.CheckIn(f.ctx, a.VisitCode)
	require.NoError(f.t, err)
	require.False(f.t, res.AlreadyCheckedIn)
	f.clock.Advance(time.Minute)
	return res.Appointment, res.Entry
}

func (f *fixture) appointment(id uuid.UUID) Appointment {
	f.t.Helper()
	a, err := f.repo.GetAppointmentByID(f.ctx, id)
	require.NoError(f.t, err)
	return *a
}

func (f *fixture) entry(id uuid.UUID) QueueEntry {
	f.t.Helper()
	e, err := f.repo.GetQueueEntryByID(f.ctx, id)
	require.NoError(f.t, err)
	return *e
}

func (f *fixture) entryFor(appointmentID uuid.UUID) *QueueEntry {
	f.t.Helper()
	var out *QueueEntry
	err := f.repo.InTx(f.ctx, testLocation, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = findEntry(ctx, tx, appointmentID)
		return err
	})
	require.NoError(f.t, err)
	return out
}

func (f *fixture) roomStatus(id uuid.UUID) RoomStatus {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return f.repo.rooms[id].Status
}

func (f *fixture) dentistAvailable(id uuid.UUID) bool {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return f.repo.dentists[id].Available
}

func (f *fixture) entryCount() int {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return len(f.repo.entries)
}

// assertResourceInvariants checks that every occupied room and busy dentist
// is referenced by exactly one in-treatment entry and every free one by none.
func (f *fixture) assertResourceInvariants() {
	f.t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()

	roomRefs := make(map[uuid.UUID]int)
	dentistRefs := make(map[uuid.UUID]int)
	for _, e := range f.repo.entries {
		if e.QueueStatus != QueueInTreatment {
			continue
		}
		require.NotNil(f.t, e.RoomID)
		require.NotNil(f.t, e.DentistID)
		roomRefs[*e.RoomID]++
		dentistRefs[*e.DentistID]++
	}
	for id, r := range f.repo.rooms {
		if r.Status == RoomOccupied {
			assert.Equal(f.t, 1, roomRefs[id], "room %s", r.Label)
		} else {
			assert.Zero(f.t, roomRefs[id], "room %s", r.Label)
		}
	}
	for id, d := range f.repo.dentists {
		if !d.Available {
			assert.Equal(f.t, 1, dentistRefs[id], "dentist %s", d.Name)
		} else {
			assert.Zero(f.t, dentistRefs[id], "dentist %s", d.Name)
		}
	}
}

type busyLocker struct{}

func (busyLocker) WithLocationLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type passLocker struct {
	mu    sync.Mutex
	calls []string
}

func (l *passLocker) WithLocationLock(ctx context.Context, location string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, location)
	l.mu.Unlock()
	return fn(ctx)
}

func ptr[T any](v T) *T {
	return &v
}
