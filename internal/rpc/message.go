package rpc

// A control message between two contexts.
//
// A request carries exactly one of Command or Query, with its Params, and a Tag if it expects a reply.
// A reply carries the Tag of its request, and either Data or Error.
// Anything else is an event, identified by Type.
type Message struct {
	Tag     string         `json:"tag,omitempty"`
	Command string         `json:"command,omitempty"`
	Query   string         `json:"query,omitempty"`
	Type    string         `json:"type,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (m Message) IsEvent() bool {
	return m.Tag == "" && !m.IsRequest()
}

func (m Message) IsRequest() bool {
	return m.Command != "" || m.Query != ""
}

// The command or query name of a request
func (m Message) Name() string {
	if m.Command != "" {
		return m.Command
	}
	return m.Query
}

// Look up a string parameter. Returns "" if it is absent or not a string.
func (m Message) StringParam(key string) string {
	s, _ := m.Params[key].(string)
	return s
}

// Look up an integer parameter. Accepts any Go integer type, and float64 as produced by JSON.
func (m Message) IntParam(key string) (int, bool) {
	switch v := m.Params[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
