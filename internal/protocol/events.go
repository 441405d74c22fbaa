package protocol

import (
	"time"

	"github.com/DoyleJ11/battle-backend/internal/engine"
)

type EventType string

const (
	TypeAcknowledged      EventType = "connection:acknowledged"
	TypeViewersCount      EventType = "viewers:count"
	TypeAdminConnected    EventType = "admin:connected"
	TypeAdminDisconnected EventType = "admin:disconnected"
	TypeVerseStreaming    EventType = "verse:streaming"
	TypeVerseComplete     EventType = "verse:complete"
	TypePhaseReading      EventType = "phase:reading"
	TypePhaseVoting       EventType = "phase:voting"
	TypeRoundAdvanced     EventType = "round:advanced"
	TypeBattleCompleted   EventType = "battle:completed"
	TypeLiveStarted       EventType = "battle:live_started"
	TypeLiveEnded         EventType = "battle:live_ended"
	TypeEndingSoon        EventType = "battle:ending_soon"
	TypeVoteCast          EventType = "vote:cast"
	TypeCommentAdded      EventType = "comment:added"
	TypeStateSync         EventType = "state:sync"
	TypeServerShutdown    EventType = "server:shutdown"
	TypeError             EventType = "error"
)

var known = map[EventType]bool{
	TypeAcknowledged: true, TypeViewersCount: true, TypeAdminConnected: true,
	TypeAdminDisconnected: true, TypeVerseStreaming: true, TypeVerseComplete: true,
	TypePhaseReading: true, TypePhaseVoting: true, TypeRoundAdvanced: true,
	TypeBattleCompleted: true, TypeLiveStarted: true, TypeLiveEnded: true,
	TypeEndingSoon: true, TypeVoteCast: true, TypeCommentAdded: true,
	TypeStateSync: true, TypeServerShutdown: true, TypeError: true,
}

func (t EventType) Known() bool { return known[t] }

// IsActivity reports whether broadcasting the event counts as room activity.
// Bookkeeping events and the ending-soon warning never reset the inactivity
// clock, otherwise a warning would keep its own room alive.
func (t EventType) IsActivity() bool {
	switch t {
	case TypeAcknowledged, TypeViewersCount, TypeAdminConnected, TypeAdminDisconnected,
		TypeEndingSoon, TypeLiveEnded, TypeStateSync, TypeServerShutdown, TypeError:
		return false
	}
	return true
}

// IsLiveStatus reports whether the event is mirrored to the homepage feed.
func (t EventType) IsLiveStatus() bool {
	return t == TypeLiveStarted || t == TypeLiveEnded
}

// Envelope is embedded in every outbound event so the fields land flat in
// the JSON object next to the payload.
type Envelope struct {
	Type      EventType `json:"type"`
	BattleID  string    `json:"battleId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Envelope) Header() *Envelope { return e }

type Event interface {
	Header() *Envelope
}

func env(t EventType) Envelope { return Envelope{Type: t} }

type Acknowledged struct {
	Envelope
	ClientID    string `json:"clientId"`
	ViewerCount int    `json:"viewerCount"`
}

type ViewersCount struct {
	Envelope
	Count int `json:"count"`
}

type AdminPresence struct {
	Envelope
	AdminID string `json:"adminId"`
}

type VerseStreaming struct {
	Envelope
	PersonaID  engine.SideID `json:"personaId"`
	Text       string        `json:"text"`
	IsComplete bool          `json:"isComplete"`
}

type VerseComplete struct {
	Envelope
	PersonaID engine.SideID `json:"personaId"`
	VerseText string        `json:"verseText"`
	Round     int           `json:"round"`
}

type Phase struct {
	Envelope
	Round    int `json:"round"`
	Duration int `json:"duration"` // seconds
}

type RoundAdvanced struct {
	Envelope
	NewRound int           `json:"newRound"`
	Battle   engine.Battle `json:"battle"`
}

type BattleCompleted struct {
	Envelope
	Battle engine.Battle `json:"battle"`
	Winner engine.SideID `json:"winner"`
}

type LiveStatus struct {
	Envelope
	Battle *engine.Battle `json:"battle"`
}

type EndingSoon struct {
	Envelope
	Reason           string `json:"reason"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

type VoteCast struct {
	Envelope
	Round     int           `json:"round"`
	PersonaID engine.SideID `json:"personaId"`
	Battle    engine.Battle `json:"battle"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Round     int       `json:"round,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommentAdded struct {
	Envelope
	Comment Comment `json:"comment"`
}

type StateSync struct {
	Envelope
	Battle      engine.Battle `json:"battle"`
	ViewerCount int           `json:"viewerCount"`
}

type ServerShutdown struct {
	Envelope
	Message string `json:"message"`
}

type Error struct {
	Envelope
	Message string `json:"message"`
}

func NewAcknowledged(clientID string, viewers int) *Acknowledged {
	return &Acknowledged{Envelope: env(TypeAcknowledged), ClientID: clientID, ViewerCount: viewers}
}

func NewViewersCount(n int) *ViewersCount {
	return &ViewersCount{Envelope: env(TypeViewersCount), Count: n}
}

func NewAdminConnected(adminID string) *AdminPresence {
	return &AdminPresence{Envelope: env(TypeAdminConnected), AdminID: adminID}
}

func NewAdminDisconnected(adminID string) *AdminPresence {
	return &AdminPresence{Envelope: env(TypeAdminDisconnected), AdminID: adminID}
}

func NewVerseComplete(side engine.SideID, text string, round int) *VerseComplete {
	return &VerseComplete{Envelope: env(TypeVerseComplete), PersonaID: side, VerseText: text, Round: round}
}

func NewPhaseReading(round int, d time.Duration) *Phase {
	return &Phase{Envelope: env(TypePhaseReading), Round: round, Duration: int(d / time.Second)}
}

func NewPhaseVoting(round int, d time.Duration) *Phase {
	return &Phase{Envelope: env(TypePhaseVoting), Round: round, Duration: int(d / time.Second)}
}

func NewRoundAdvanced(b engine.Battle) *RoundAdvanced {
	return &RoundAdvanced{Envelope: env(TypeRoundAdvanced), NewRound: b.CurrentRound, Battle: b}
}

func NewBattleCompleted(b engine.Battle) *BattleCompleted {
	return &BattleCompleted{Envelope: env(TypeBattleCompleted), Battle: b, Winner: b.Winner}
}

// NewLiveStarted and NewLiveEnded accept a nil battle when only the id is known.
func NewLiveStarted(b *engine.Battle) *LiveStatus {
	return &LiveStatus{Envelope: env(TypeLiveStarted), Battle: b}
}

func NewLiveEnded(b *engine.Battle) *LiveStatus {
	return &LiveStatus{Envelope: env(TypeLiveEnded), Battle: b}
}

func NewEndingSoon(reason string, remaining time.Duration) *EndingSoon {
	return &EndingSoon{Envelope: env(TypeEndingSoon), Reason: reason, SecondsRemaining: int(remaining / time.Second)}
}

func NewVoteCast(round int, side engine.SideID, b engine.Battle) *VoteCast {
	return &VoteCast{Envelope: env(TypeVoteCast), Round: round, PersonaID: side, Battle: b}
}

func NewCommentAdded(c Comment) *CommentAdded {
	return &CommentAdded{Envelope: env(TypeCommentAdded), Comment: c}
}

func NewStateSync(b engine.Battle, viewers int) *StateSync {
	return &StateSync{Envelope: env(TypeStateSync), Battle: b, ViewerCount: viewers}
}

func NewServerShutdown(msg string) *ServerShutdown {
	return &ServerShutdown{Envelope: env(TypeServerShutdown), Message: msg}
}

func NewError(msg string) *Error {
	return &Error{Envelope: env(TypeError), Message: msg}
}
