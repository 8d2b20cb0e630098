package lockmgr

// SessionRegistry holds the sessions of one document in join order.
// It is owned by the document actor and is not safe for concurrent use.
type SessionRegistry struct {
	sessions map[string]*EditSession
	order    []string
}

func newSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*EditSession)}
}

// Add registers a session. Adding a known session id replaces its entry but
// keeps its position in the join order.
func (r *SessionRegistry) Add(s EditSession) {
	if _, ok := r.sessions[s.SessionID]; !ok {
		r.order = append(r.order, s.SessionID)
	}
	r.sessions[s.SessionID] = &s
}

// Remove deletes a session and returns it
func (r *SessionRegistry) Remove(sessionID string) (EditSession, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return EditSession{}, false
	}
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *s, true
}

func (r *SessionRegistry) Get(sessionID string) (EditSession, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return EditSession{}, false
	}
	return *s, true
}

// List returns copies of all sessions in join order
func (r *SessionRegistry) List() []EditSession {
	out := make([]EditSession, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.sessions[id])
	}
	return out
}

// WithRole returns the sessions holding role, in join order
func (r *SessionRegistry) WithRole(role Role) []EditSession {
	var out []EditSession
	for _, id := range r.order {
		if s := r.sessions[id]; s.Role == role {
			out = append(out, *s)
		}
	}
	return out
}

func (r *SessionRegistry) RoleOf(sessionID string) (Role, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.Role, true
}

// SetRole changes the role of a session. It reports false for unknown sessions.
func (r *SessionRegistry) SetRole(sessionID string, role Role) bool {
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.Role = role
	return true
}

func (r *SessionRegistry) Len() int {
	return len(r.order)
}
