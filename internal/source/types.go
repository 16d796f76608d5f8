package source

// RawEntry is one line of a session log file. Only the fields the aggregation
// cares about are declared; everything else in the record is ignored.
type RawEntry struct {
	Type      string      `json:"type"`
	Role      string      `json:"role,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Model     string      `json:"model,omitempty"`
	Message   *RawMessage `json:"message,omitempty"`
	Usage     *RawUsage   `json:"usage,omitempty"`
}

// RawMessage is the assistant message envelope.
type RawMessage struct {
	Role  string    `json:"role"`
	Model string    `json:"model"`
	Usage *RawUsage `json:"usage,omitempty"`
}

// RawUsage holds token counters. Field names have drifted across log schema
// versions, so the older spellings are kept as fallbacks; resolution order is
// fixed in resolve().
type RawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheCreation            *struct {
		Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
		Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
	} `json:"cache_creation,omitempty"`

	// Legacy spellings from early log versions.
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

// resolve collapses the variant fields into the four canonical counters.
//
// Precedence, applied independently per category:
//  1. cache read:  cache_read_input_tokens, then cache_read_tokens
//  2. cache write: cache_creation.ephemeral_5m + ephemeral_1h when the nested
//     object is present, then cache_creation_input_tokens, then
//     cache_write_tokens
func (u *RawUsage) resolve() (input, output, cacheRead, cacheWrite int64) {
	input = u.InputTokens
	output = u.OutputTokens

	cacheRead = u.CacheReadInputTokens
	if cacheRead == 0 {
		cacheRead = u.CacheReadTokens
	}

	switch {
	case u.CacheCreation != nil:
		cacheWrite = u.CacheCreation.Ephemeral5mInputTokens + u.CacheCreation.Ephemeral1hInputTokens
	case u.CacheCreationInputTokens > 0:
		cacheWrite = u.CacheCreationInputTokens
	default:
		cacheWrite = u.CacheWriteTokens
	}
	return input, output, cacheRead, cacheWrite
}

// empty reports whether the usage carries no token counts at all.
func (u *RawUsage) empty() bool {
	in, out, cr, cw := u.resolve()
	return in == 0 && out == 0 && cr == 0 && cw == 0
}

// SessionFile is one discovered log file. SessionID is the path of the
// containing directory: a session's file may be renamed or rotated while the
// directory stays the stable identity.
type SessionFile struct {
	Path      string
	SessionID string
	MtimeNs   int64
	SizeBytes int64
}
