package services

import (
	"context"
	"time"

	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/store"

	"github.com/jellydator/ttlcache/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IEmployeeService reads the employee and user directories.
type IEmployeeService interface {
	FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Employee, error)
	Usernames(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]string, error)
	Close()
}

// employeeService implements IEmployeeService. Directory records change rarely,
// so lookups are cached for a configurable TTL.
type employeeService struct {
	directory     store.DirectoryStore
	employeeCache *ttlcache.Cache[primitive.ObjectID, *models.Employee]
	usernameCache *ttlcache.Cache[primitive.ObjectID, string]
}

// NewEmployeeService creates a new EmployeeService.
func NewEmployeeService(directory store.DirectoryStore, ttl time.Duration) IEmployeeService {
	s := &employeeService{
		directory:     directory,
		employeeCache: ttlcache.New(ttlcache.WithTTL[primitive.ObjectID, *models.Employee](ttl)),
		usernameCache: ttlcache.New(ttlcache.WithTTL[primitive.ObjectID, string](ttl)),
	}
	go s.employeeCache.Start()
	go s.usernameCache.Start()
	return s
}

// FindByUserID returns the employee profile of a user. Misses are not cached.
func (s *employeeService) FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Employee, error) {
	if item := s.employeeCache.Get(userID); item != nil {
		return item.Value(), nil
	}
	employee, err := s.directory.FindEmployeeByUser(ctx, userID)
	if err != nil {
		return nil, storeErr("employee for user "+userID.Hex(), err)
	}
	s.employeeCache.Set(userID, employee, ttlcache.DefaultTTL)
	return employee, nil
}

// Usernames resolves display names. Unknown users are absent from the result.
func (s *employeeService) Usernames(ctx context.Context, userIDs []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	names := make(map[primitive.ObjectID]string, len(userIDs))
	var missing []primitive.ObjectID
	for _, id := range userIDs {
		if _, seen := names[id]; seen {
			continue
		}
		if item := s.usernameCache.Get(id); item != nil {
			names[id] = item.Value()
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names, nil
	}

	users, err := s.directory.FindUsers(ctx, missing)
	if err != nil {
		return nil, storeErr("resolve usernames", err)
	}
	for _, u := range users {
		names[u.ID] = u.Username
		s.usernameCache.Set(u.ID, u.Username, ttlcache.DefaultTTL)
	}
	return names, nil
}

// Close stops the cache janitors.
func (s *employeeService) Close() {
	s.employeeCache.Stop()
	s.usernameCache.Stop()
}
