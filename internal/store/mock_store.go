// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database while keeping the SQL store's semantics

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	servers       map[string]*Server
	health        map[string][]*HealthCheck // keyed by server ID, append order
	executions    map[string][]*ToolExecution
	counters      map[string]*ServerCounters
	permissions   map[string]*Permission
	rolePerms     map[string]*RolePermission // keyed by "role:permissionID"
	userPerms     map[string]*UserPermission // keyed by "userID:permissionID"
	resourcePerms map[string]*ResourcePermission
	policies      map[string]*AuthorizationPolicy
	secrets       map[string][]*SecretVersion // keyed by name, ascending version
	audit         []AuditEntry
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		servers:       make(map[string]*Server),
		health:        make(map[string][]*HealthCheck),
		executions:    make(map[string][]*ToolExecution),
		counters:      make(map[string]*ServerCounters),
		permissions:   make(map[string]*Permission),
		rolePerms:     make(map[string]*RolePermission),
		userPerms:     make(map[string]*UserPermission),
		resourcePerms: make(map[string]*ResourcePermission),
		policies:      make(map[string]*AuthorizationPolicy),
		secrets:       make(map[string][]*SecretVersion),
	}
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

func copyServer(s *Server) *Server {
	c := *s
	c.Credentials = slices.Clone(s.Credentials)
	c.ConnectionInfo = slices.Clone(s.ConnectionInfo)
	c.Capabilities = slices.Clone(s.Capabilities)
	if s.LastHealthCheck != nil {
		t := *s.LastHealthCheck
		c.LastHealthCheck = &t
	}
	return &c
}

// nameTakenLocked must be called with mu held.
func (m *MockStore) nameTakenLocked(orgID, name, excludeID string) bool {
	for _, s := range m.servers {
		if s.OrganizationID == orgID && s.Name == name && s.ID != excludeID {
			return true
		}
	}
	return false
}

// CreateServer stores a new server.
func (m *MockStore) CreateServer(ctx context.Context, srv *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if srv.ID == "" {
		srv.ID = uuid.New().String()
	}
	if _, ok := m.servers[srv.ID]; ok {
		return fmt.Errorf("server %s: %w", srv.ID, ErrConflict)
	}
	if m.nameTakenLocked(srv.OrganizationID, srv.Name, "") {
		return fmt.Errorf("server %q in organization %q: %w", srv.Name, srv.OrganizationID, ErrConflict)
	}
	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	if srv.UpdatedAt.IsZero() {
		srv.UpdatedAt = srv.CreatedAt
	}
	if srv.Status == "" {
		srv.Status = StatusUnknown
	}
	m.servers[srv.ID] = copyServer(srv)
	return nil
}

// GetServer retrieves a server by ID.
func (m *MockStore) GetServer(ctx context.Context, id string) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyServer(s), nil
}

// UpdateServer writes the descriptive fields of a server.
func (m *MockStore) UpdateServer(ctx context.Context, srv *Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.servers[srv.ID]
	if !ok {
		return ErrNotFound
	}
	if m.nameTakenLocked(existing.OrganizationID, srv.Name, srv.ID) {
		return fmt.Errorf("server %q in organization %q: %w", srv.Name, existing.OrganizationID, ErrConflict)
	}
	srv.UpdatedAt = time.Now().UTC()
	c := copyServer(existing)
	c.Name = srv.Name
	c.Description = srv.Description
	c.URL = srv.URL
	c.ServerType = srv.ServerType
	c.AuthType = srv.AuthType
	c.ConnectionInfo = slices.Clone(srv.ConnectionInfo)
	c.Capabilities = slices.Clone(srv.Capabilities)
	c.UpdatedAt = srv.UpdatedAt
	m.servers[srv.ID] = c
	return nil
}

// SetServerCredentials replaces the credential reference.
func (m *MockStore) SetServerCredentials(ctx context.Context, id string, ref []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	s.Credentials = slices.Clone(ref)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteServer removes a server.
func (m *MockStore) DeleteServer(ctx context.Context, id string, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.deleteLocked("", []string{id}, cascade)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkDeleteServers deletes the servers in ids owned by orgID.
func (m *MockStore) BulkDeleteServers(ctx context.Context, orgID string, ids []string, cascade bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(orgID, ids, cascade)
}

func (m *MockStore) deleteLocked(orgID string, ids []string, cascade bool) (int64, error) {
	var owned []string
	for _, id := range ids {
		s, ok := m.servers[id]
		if !ok || (orgID != "" && s.OrganizationID != orgID) || slices.Contains(owned, id) {
			continue
		}
		owned = append(owned, id)
	}
	if !cascade {
		for _, id := range owned {
			if len(m.health[id]) > 0 || len(m.executions[id]) > 0 {
				return 0, ErrHasHistory
			}
		}
	}
	for _, id := range owned {
		delete(m.servers, id)
		delete(m.health, id)
		delete(m.executions, id)
		delete(m.counters, id)
	}
	return int64(len(owned)), nil
}

// ListServers returns one page of matching servers and the total count.
func (m *MockStore) ListServers(ctx context.Context, f ServerFilter) ([]*Server, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(f.Search))
	var matched []*Server
	for _, s := range m.servers {
		if f.OrganizationID != "" && s.OrganizationID != f.OrganizationID {
			continue
		}
		if f.ServerType != nil && s.ServerType != *f.ServerType {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.IsActive != nil && s.IsActive != *f.IsActive {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(s.Name), term) &&
			!strings.Contains(strings.ToLower(s.Description), term) {
			continue
		}
		matched = append(matched, s)
	}

	column := sortColumn(f.SortBy)
	key := func(s *Server) string {
		switch column {
		case "created_at":
			return formatTime(s.CreatedAt)
		case "updated_at":
			return formatTime(s.UpdatedAt)
		case "status":
			return string(s.Status)
		case "server_type":
			return string(s.ServerType)
		case "last_health_check":
			if s.LastHealthCheck == nil {
				return ""
			}
			return formatTime(*s.LastHealthCheck)
		default:
			return s.Name
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ki, kj := key(matched[i]), key(matched[j])
		if ki == kj {
			return matched[i].ID < matched[j].ID
		}
		if f.SortDesc {
			return ki > kj
		}
		return ki < kj
	})

	total := len(matched)
	page, size := NormalizePage(f.Page, f.PageSize)
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := min(start+size, total)

	result := make([]*Server, 0, end-start)
	for _, s := range matched[start:end] {
		result = append(result, copyServer(s))
	}
	return result, total, nil
}

// ServerExists reports whether id exists in orgID.
func (m *MockStore) ServerExists(ctx context.Context, orgID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	return ok && s.OrganizationID == orgID, nil
}

// ServerNameExists reports whether name is taken in orgID.
func (m *MockStore) ServerNameExists(ctx context.Context, orgID, name, excludeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nameTakenLocked(orgID, name, excludeID), nil
}

// SetServerStatus moves a server from one status to another.
func (m *MockStore) SetServerStatus(ctx context.Context, id string, from, to ServerStatus, checkedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	if checkedAt != nil {
		t := *checkedAt
		s.LastHealthCheck = &t
	}
	return true, nil
}

// BulkUpdateStatus sets status on the servers in ids owned by orgID.
func (m *MockStore) BulkUpdateStatus(ctx context.Context, orgID string, ids []string, status ServerStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	seen := map[string]bool{}
	for _, id := range ids {
		s, ok := m.servers[id]
		if !ok || s.OrganizationID != orgID || seen[id] {
			continue
		}
		seen[id] = true
		s.Status = status
		s.IsActive = status != StatusDeactivated
		s.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

// DeactivateStale deactivates active servers not checked since cutoff.
func (m *MockStore) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.servers {
		if !s.IsActive {
			continue
		}
		last := s.CreatedAt
		if s.LastHealthCheck != nil {
			last = *s.LastHealthCheck
		}
		if last.Before(cutoff) {
			s.IsActive = false
			s.Status = StatusDeactivated
			s.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// InsertHealthCheck appends a health check.
func (m *MockStore) InsertHealthCheck(ctx context.Context, hc *HealthCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[hc.ServerID]; !ok {
		return fmt.Errorf("health check for server %s: %w", hc.ServerID, ErrNotFound)
	}
	if hc.ID == "" {
		hc.ID = uuid.New().String()
	}
	if hc.CheckedAt.IsZero() {
		hc.CheckedAt = time.Now().UTC()
	}
	c := *hc
	m.health[hc.ServerID] = append(m.health[hc.ServerID], &c)
	return nil
}

func (m *MockStore) sortedChecksLocked(serverID string) []*HealthCheck {
	checks := slices.Clone(m.health[serverID])
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].CheckedAt.Before(checks[j].CheckedAt) })
	return checks
}

// ListHealthChecks returns checks at or after since, oldest first.
func (m *MockStore) ListHealthChecks(ctx context.Context, serverID string, since time.Time) ([]*HealthCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*HealthCheck
	for _, hc := range m.sortedChecksLocked(serverID) {
		if !hc.CheckedAt.Before(since) {
			c := *hc
			result = append(result, &c)
		}
	}
	return result, nil
}

// RecentHealthChecks returns the newest n checks, newest first.
func (m *MockStore) RecentHealthChecks(ctx context.Context, serverID string, n int) ([]*HealthCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		n = 1
	}
	checks := m.sortedChecksLocked(serverID)
	var result []*HealthCheck
	for i := len(checks) - 1; i >= 0 && len(result) < n; i-- {
		c := *checks[i]
		result = append(result, &c)
	}
	return result, nil
}

// RecordToolExecution appends an execution and bumps counters.
func (m *MockStore) RecordToolExecution(ctx context.Context, e *ToolExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[e.ServerID]; !ok {
		return fmt.Errorf("execution for server %s: %w", e.ServerID, ErrNotFound)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	c := *e
	m.executions[e.ServerID] = append(m.executions[e.ServerID], &c)

	counters, ok := m.counters[e.ServerID]
	if !ok {
		counters = &ServerCounters{ServerID: e.ServerID}
		m.counters[e.ServerID] = counters
	}
	counters.TotalRequests++
	if e.Success {
		counters.SuccessfulRequests++
	} else {
		counters.FailedRequests++
	}
	counters.TotalDurationMs += e.DurationMs
	at := e.ExecutedAt
	counters.LastExecutedAt = &at
	return nil
}

// GetServerCounters returns the running counters for a server.
func (m *MockStore) GetServerCounters(ctx context.Context, serverID string) (*ServerCounters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.counters[serverID]; ok {
		cp := *c
		return &cp, nil
	}
	return &ServerCounters{ServerID: serverID}, nil
}

// GetExecutionStats aggregates executions in [from, to).
func (m *MockStore) GetExecutionStats(ctx context.Context, serverID string, from, to time.Time) (*ExecutionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats ExecutionStats
	var totalDuration int64
	for _, e := range m.executions[serverID] {
		if e.ExecutedAt.Before(from) || !e.ExecutedAt.Before(to) {
			continue
		}
		stats.TotalRequests++
		if e.Success {
			stats.SuccessfulRequests++
		}
		totalDuration += e.DurationMs
	}
	stats.FailedRequests = stats.TotalRequests - stats.SuccessfulRequests
	if stats.TotalRequests > 0 {
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// CreatePermission stores a permission.
func (m *MockStore) CreatePermission(ctx context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, ok := m.permissions[p.ID]; ok {
		return fmt.Errorf("permission %s: %w", p.ID, ErrConflict)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	c := *p
	m.permissions[p.ID] = &c
	return nil
}

// GetPermission retrieves a permission.
func (m *MockStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// DeletePermission removes a permission and its assignments.
func (m *MockStore) DeletePermission(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	for k, rp := range m.rolePerms {
		if rp.PermissionID == id {
			delete(m.rolePerms, k)
		}
	}
	for k, up := range m.userPerms {
		if up.PermissionID == id {
			delete(m.userPerms, k)
		}
	}
	return nil
}

// AssignRolePermission assigns a permission to a role. Idempotent.
func (m *MockStore) AssignRolePermission(ctx context.Context, rp *RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[rp.PermissionID]; !ok {
		return fmt.Errorf("permission %s: %w", rp.PermissionID, ErrNotFound)
	}
	key := rp.Role + ":" + rp.PermissionID
	if _, ok := m.rolePerms[key]; ok {
		return nil
	}
	if rp.AssignedAt.IsZero() {
		rp.AssignedAt = time.Now().UTC()
	}
	c := *rp
	c.Permission = nil
	m.rolePerms[key] = &c
	return nil
}

// RemoveRolePermission removes an assignment. Idempotent.
func (m *MockStore) RemoveRolePermission(ctx context.Context, role, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rolePerms, role+":"+permissionID)
	return nil
}

// ListRolePermissions returns assignments for any of roles.
func (m *MockStore) ListRolePermissions(ctx context.Context, roles []string) ([]*RolePermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*RolePermission{}
	for _, rp := range m.rolePerms {
		if !slices.Contains(roles, rp.Role) {
			continue
		}
		c := *rp
		p := *m.permissions[rp.PermissionID]
		c.Permission = &p
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Role != result[j].Role {
			return result[i].Role < result[j].Role
		}
		return result[i].PermissionID < result[j].PermissionID
	})
	return result, nil
}

// GrantUserPermission assigns or replaces a user grant.
func (m *MockStore) GrantUserPermission(ctx context.Context, up *UserPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[up.PermissionID]; !ok {
		return fmt.Errorf("permission %s: %w", up.PermissionID, ErrNotFound)
	}
	if up.AssignedAt.IsZero() {
		up.AssignedAt = time.Now().UTC()
	}
	c := *up
	c.Permission = nil
	m.userPerms[up.UserID+":"+up.PermissionID] = &c
	return nil
}

// RevokeUserPermission removes a user grant. Idempotent.
func (m *MockStore) RevokeUserPermission(ctx context.Context, userID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userPerms, userID+":"+permissionID)
	return nil
}

// ListUserPermissions returns a user's grants, expired ones included.
func (m *MockStore) ListUserPermissions(ctx context.Context, userID string) ([]*UserPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*UserPermission
	for _, up := range m.userPerms {
		if up.UserID != userID {
			continue
		}
		c := *up
		p := *m.permissions[up.PermissionID]
		c.Permission = &p
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PermissionID < result[j].PermissionID })
	return result, nil
}

// CreateResourcePermission stores an override.
func (m *MockStore) CreateResourcePermission(ctx context.Context, rp *ResourcePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rp.ID == "" {
		rp.ID = uuid.New().String()
	}
	if _, ok := m.resourcePerms[rp.ID]; ok {
		return fmt.Errorf("resource permission %s: %w", rp.ID, ErrConflict)
	}
	if rp.GrantedAt.IsZero() {
		rp.GrantedAt = time.Now().UTC()
	}
	c := *rp
	m.resourcePerms[rp.ID] = &c
	return nil
}

// DeleteResourcePermission removes an override.
func (m *MockStore) DeleteResourcePermission(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resourcePerms[id]; !ok {
		return ErrNotFound
	}
	delete(m.resourcePerms, id)
	return nil
}

// ListResourcePermissions returns a user's overrides for resource/action.
func (m *MockStore) ListResourcePermissions(ctx context.Context, userID, resource, action string) ([]*ResourcePermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ResourcePermission
	for _, rp := range m.resourcePerms {
		if rp.UserID == userID && rp.Resource == resource && rp.Action == action {
			c := *rp
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CreatePolicy stores a policy. Names are unique.
func (m *MockStore) CreatePolicy(ctx context.Context, p *AuthorizationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.policies {
		if existing.Name == p.Name {
			return fmt.Errorf("policy %q: %w", p.Name, ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	c := *p
	m.policies[p.ID] = &c
	return nil
}

// SetPolicyEnabled toggles a policy.
func (m *MockStore) SetPolicyEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return ErrNotFound
	}
	p.IsEnabled = enabled
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ListPolicies returns global policies plus those of orgID.
func (m *MockStore) ListPolicies(ctx context.Context, orgID string) ([]*AuthorizationPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AuthorizationPolicy
	for _, p := range m.policies {
		if p.OrganizationID == nil || *p.OrganizationID == orgID {
			c := *p
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// PutSecretVersion appends the next version of sv.Name.
func (m *MockStore) PutSecretVersion(ctx context.Context, sv *SecretVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sv.CreatedAt.IsZero() {
		sv.CreatedAt = time.Now().UTC()
	}
	sv.Version = 1
	if versions := m.secrets[sv.Name]; len(versions) > 0 {
		sv.Version = versions[len(versions)-1].Version + 1
	}
	c := *sv
	m.secrets[sv.Name] = append(m.secrets[sv.Name], &c)
	return nil
}

// GetSecretVersion returns a specific version.
func (m *MockStore) GetSecretVersion(ctx context.Context, name string, version int) (*SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sv := range m.secrets[name] {
		if sv.Version == version {
			c := *sv
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// LatestSecretVersion returns the newest enabled version.
func (m *MockStore) LatestSecretVersion(ctx context.Context, name string) (*SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.secrets[name]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Enabled {
			c := *versions[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListSecretVersions returns every version, newest first.
func (m *MockStore) ListSecretVersions(ctx context.Context, name string) ([]*SecretVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.secrets[name]
	result := make([]*SecretVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		c := *versions[i]
		result = append(result, &c)
	}
	return result, nil
}

// DisableSecretVersion marks a version disabled.
func (m *MockStore) DisableSecretVersion(ctx context.Context, name string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sv := range m.secrets[name] {
		if sv.Version == version {
			sv.Enabled = false
			return nil
		}
	}
	return ErrNotFound
}

// DeleteSecret removes every version of name.
func (m *MockStore) DeleteSecret(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.secrets[name]))
	delete(m.secrets, name)
	return n, nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if (f.ActorID != "" && e.ActorID != f.ActorID) ||
			(f.OrgID != "" && e.OrgID != f.OrgID) ||
			(f.Action != "" && e.Action != f.Action) ||
			(f.TargetType != "" && e.TargetType != f.TargetType) ||
			(f.TargetID != "" && e.TargetID != f.TargetID) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
