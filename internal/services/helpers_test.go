package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/store/memstore"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// recordingBroadcaster serializes per key like the hub and remembers publishes.
type recordingBroadcaster struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	published []published
}

type published struct {
	key string
	msg models.Message
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{locks: map[string]*sync.Mutex{}}
}

func (b *recordingBroadcaster) Sequence(key string, fn func() error) error {
	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	b.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (b *recordingBroadcaster) Publish(key string, msg *models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{key: key, msg: *msg})
}

func (b *recordingBroadcaster) Published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

type fixture struct {
	mem       *memstore.Memory
	bc        *recordingBroadcaster
	employees IEmployeeService
	inquiries IInquiryService
	chats     IChatService

	employee models.Actor
	admin    models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	stores := mem.Stores()
	bc := newRecordingBroadcaster()
	cfg := &config.Config{ChatHistoryLimit: 50, ChatMaxPageSize: 200}

	employees := NewEmployeeService(stores.Directory, time.Minute)
	t.Cleanup(employees.Close)

	f := &fixture{
		mem:       mem,
		bc:        bc,
		employees: employees,
		inquiries: NewInquiryService(stores.Inquiries, employees, nil),
		chats:     NewChatService(stores, employees, bc, cfg),
		employee:  models.Actor{UserID: primitive.NewObjectID(), Username: "tama"},
		admin:     models.Actor{UserID: primitive.NewObjectID(), Username: "office", IsAdmin: true},
	}
	mem.PutUser(models.User{ID: f.employee.UserID, Username: f.employee.Username, Level: models.LevelEmployee})
	mem.PutUser(models.User{ID: f.admin.UserID, Username: f.admin.Username, Level: models.LevelAdmin})
	mem.PutEmployee(models.Employee{ID: primitive.NewObjectID(), User: f.employee.UserID, Status: models.EmployeeClockedIn})
	return f
}

func validPayload() InquiryPayload {
	return InquiryPayload{
		Location:  models.Location{Lat: -36.85, Lng: 174.76},
		Remarks:   "new driveway",
		PhotoURLs: []string{"inquiries/2024/site.jpg"},
		Client:    models.ClientInfo{Name: "Mere", Phone: "0211234567", Address: "12 Ponsonby Rd"},
	}
}

func (f *fixture) submit(t *testing.T) *models.Inquiry {
	t.Helper()
	inq, err := f.inquiries.Submit(context.Background(), f.employee.UserID, validPayload())
	require.NoError(t, err)
	return inq
}
