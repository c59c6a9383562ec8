/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store holding everything under one mutex.
// It backs the unit specs of the components built on the catalog and keeps
// the same compare-and-set semantics as the PostgreSQL implementation.
type MemoryStore struct {
	mu sync.Mutex

	nextID    int64
	servers   map[int64]*Server
	schedules map[int64]*Schedule
	backups   map[int64]*Backup
	policies  map[int64]*RetentionPolicy
	audit     []AuditRecord
}

// NewMemory creates an empty in-process store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		servers:   make(map[int64]*Server),
		schedules: make(map[int64]*Schedule),
		backups:   make(map[int64]*Backup),
		policies:  make(map[int64]*RetentionPolicy),
	}
}

func (s *MemoryStore) allocateID() int64 {
	s.nextID++
	return s.nextID
}

// GetServer loads one server by ID
func (s *MemoryStore) GetServer(_ context.Context, id int64) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: server %d", ErrNotFound, id)
	}
	clone := *server
	return &clone, nil
}

// GetServerByName loads one server by its unique name
func (s *MemoryStore) GetServerByName(_ context.Context, name string) (*Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.Name == name {
			clone := *server
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: server %q", ErrNotFound, name)
}

// ListServers returns every server, newest first
func (s *MemoryStore) ListServers(_ context.Context) ([]Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	servers := make([]Server, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, *server)
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].CreatedAt.After(servers[j].CreatedAt)
	})
	return servers, nil
}

// ListActiveServers returns the servers with the active flag set
func (s *MemoryStore) ListActiveServers(_ context.Context) ([]Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var servers []Server
	for _, server := range s.servers {
		if server.Active {
			servers = append(servers, *server)
		}
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})
	return servers, nil
}

// CreateServer persists a new server and returns its ID
func (s *MemoryStore) CreateServer(_ context.Context, server *Server) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.servers {
		if existing.Name == server.Name {
			return 0, fmt.Errorf("server %q already exists", server.Name)
		}
	}

	clone := *server
	clone.ID = s.allocateID()
	if clone.HealthStatus == "" {
		clone.HealthStatus = HealthUnknown
	}
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.servers[clone.ID] = &clone
	return clone.ID, nil
}

// UpdateServerHealth records the outcome of a health probe
func (s *MemoryStore) UpdateServerHealth(
	_ context.Context,
	id int64,
	status HealthStatus,
	heartbeat *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[id]
	if !ok {
		return fmt.Errorf("%w: server %d", ErrNotFound, id)
	}
	server.HealthStatus = status
	if heartbeat != nil {
		server.LastHeartbeat = heartbeat
	}
	server.UpdatedAt = time.Now()
	return nil
}

// GetSchedule loads one schedule by ID
func (s *MemoryStore) GetSchedule(_ context.Context, id int64) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	clone := *schedule
	return &clone, nil
}

// ListSchedules returns every schedule
func (s *MemoryStore) ListSchedules(_ context.Context) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedulesLocked(false), nil
}

// ListEnabledSchedules returns the schedules the ticker evaluates
func (s *MemoryStore) ListEnabledSchedules(_ context.Context) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedulesLocked(true), nil
}

func (s *MemoryStore) schedulesLocked(enabledOnly bool) []Schedule {
	schedules := make([]Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		if enabledOnly && !schedule.Enabled {
			continue
		}
		schedules = append(schedules, *schedule)
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].ID < schedules[j].ID
	})
	return schedules
}

// CreateSchedule persists a new schedule and returns its ID
func (s *MemoryStore) CreateSchedule(_ context.Context, schedule *Schedule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *schedule
	clone.ID = s.allocateID()
	if clone.Timezone == "" {
		clone.Timezone = "UTC"
	}
	if clone.Compression == "" {
		clone.Compression = CompressionNone
	}
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.schedules[clone.ID] = &clone
	return clone.ID, nil
}

// AdmitScheduledBackup inserts a pending backup and moves the schedule run
// markers atomically
func (s *MemoryStore) AdmitScheduledBackup(
	_ context.Context,
	scheduleID int64,
	backup *Backup,
	lastRun time.Time,
	nextRun time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[scheduleID]
	if !ok {
		return 0, fmt.Errorf("%w: schedule %d", ErrNotFound, scheduleID)
	}

	id := s.insertBackupLocked(backup)
	last := lastRun
	next := nextRun
	schedule.LastRun = &last
	schedule.NextRun = &next
	schedule.UpdatedAt = time.Now()
	return id, nil
}

// UpdateScheduleRuns records a schedule's run markers
func (s *MemoryStore) UpdateScheduleRuns(
	_ context.Context,
	id int64,
	lastRun *time.Time,
	nextRun time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	if lastRun != nil {
		last := *lastRun
		schedule.LastRun = &last
	}
	next := nextRun
	schedule.NextRun = &next
	schedule.UpdatedAt = time.Now()
	return nil
}

// GetBackup loads one backup by ID
func (s *MemoryStore) GetBackup(_ context.Context, id int64) (*Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup, ok := s.backups[id]
	if !ok {
		return nil, fmt.Errorf("%w: backup %d", ErrNotFound, id)
	}
	clone := *backup
	return &clone, nil
}

// InsertBackup persists a new backup row and returns its ID
func (s *MemoryStore) InsertBackup(_ context.Context, backup *Backup) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBackupLocked(backup), nil
}

func (s *MemoryStore) insertBackupLocked(backup *Backup) int64 {
	clone := *backup
	clone.ID = s.allocateID()
	if clone.Status == "" {
		clone.Status = BackupStatusPending
	}
	if clone.CompressionAlgo == "" {
		clone.CompressionAlgo = CompressionNone
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.backups[clone.ID] = &clone
	return clone.ID
}

// UpdateBackupStatus moves a backup between statuses with compare-and-set
// semantics matching the PostgreSQL store
func (s *MemoryStore) UpdateBackupStatus(
	_ context.Context,
	id int64,
	from BackupStatus,
	to BackupStatus,
	update BackupUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup, ok := s.backups[id]
	if !ok {
		return fmt.Errorf("%w: backup %d", ErrNotFound, id)
	}
	if backup.Status != from {
		return fmt.Errorf("%w: backup %d is %s, expected %s",
			ErrStatusConflict, id, backup.Status, from)
	}

	backup.Status = to
	if update.StartedAt != nil {
		backup.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		backup.CompletedAt = update.CompletedAt
	}
	if update.DurationSeconds != nil {
		backup.DurationSeconds = update.DurationSeconds
	}
	if update.SizeBytes != nil {
		backup.SizeBytes = update.SizeBytes
	}
	if update.Checksum != nil {
		backup.Checksum = update.Checksum
	}
	if update.StorageKey != nil {
		backup.StorageKey = update.StorageKey
	}
	if update.ErrorMessage != nil {
		backup.ErrorMessage = update.ErrorMessage
	}
	if update.Encrypted != nil {
		backup.Encrypted = *update.Encrypted
	}
	if update.EncryptionAlgo != nil {
		backup.EncryptionAlgo = update.EncryptionAlgo
	}
	if update.Compressed != nil {
		backup.Compressed = *update.Compressed
	}
	if update.CompressionAlgo != nil {
		backup.CompressionAlgo = *update.CompressionAlgo
	}
	if update.DeletedAt != nil {
		backup.DeletedAt = update.DeletedAt
	}
	return nil
}

// ListBackups returns the most recent backups up to limit
func (s *MemoryStore) ListBackups(_ context.Context, limit int) ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backups := make([]Backup, 0, len(s.backups))
	for _, backup := range s.backups {
		backups = append(backups, *backup)
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	if limit > 0 && len(backups) > limit {
		backups = backups[:limit]
	}
	return backups, nil
}

// ListCompletedBackups returns the completed, not soft-deleted backups of
// one database of one server, newest first
func (s *MemoryStore) ListCompletedBackups(
	_ context.Context,
	serverID int64,
	database string,
) ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backups []Backup
	for _, backup := range s.backups {
		if backup.ServerID != serverID || backup.DatabaseName != database {
			continue
		}
		if backup.Status != BackupStatusCompleted || backup.DeletedAt != nil {
			continue
		}
		backups = append(backups, *backup)
	}
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// ListBackupsByStatus returns the backups currently in a status
func (s *MemoryStore) ListBackupsByStatus(_ context.Context, status BackupStatus) ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backups []Backup
	for _, backup := range s.backups {
		if backup.Status == status {
			backups = append(backups, *backup)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ID < backups[j].ID
	})
	return backups, nil
}

// SoftDeleteBackup moves a completed backup to deleted, stamping deleted_at
func (s *MemoryStore) SoftDeleteBackup(ctx context.Context, id int64, now time.Time) error {
	return s.UpdateBackupStatus(ctx, id, BackupStatusCompleted, BackupStatusDeleted,
		BackupUpdate{DeletedAt: &now})
}

// GetRetentionPolicy loads one retention policy by ID
func (s *MemoryStore) GetRetentionPolicy(_ context.Context, id int64) (*RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: retention policy %d", ErrNotFound, id)
	}
	clone := *policy
	return &clone, nil
}

// CreateRetentionPolicy persists a new policy and returns its ID
func (s *MemoryStore) CreateRetentionPolicy(_ context.Context, policy *RetentionPolicy) (int64, error) {
	if !policy.HasActiveRule() {
		return 0, fmt.Errorf("retention policy %q has no active rule", policy.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *policy
	clone.ID = s.allocateID()
	clone.CreatedAt = time.Now()
	s.policies[clone.ID] = &clone
	return clone.ID, nil
}

// InsertAudit appends an audit record
func (s *MemoryStore) InsertAudit(_ context.Context, record *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.ID = s.allocateID()
	clone.CreatedAt = time.Now()
	s.audit = append(s.audit, clone)
	return nil
}

// ListAudit returns the most recent audit records up to limit
func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]AuditRecord, len(s.audit))
	copy(records, s.audit)
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID > records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
