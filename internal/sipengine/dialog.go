package sipengine

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/csfua/softphone/internal/media"
)

// Direction is the call's originating side.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// DialogState is the union of the outgoing-call and incoming-call FSMs.
// Both FSMs share "idle" and "established"; "terminating" is entered only
// when an outgoing call is cancelled, and the remaining states are
// exclusive to one direction, which Direction disambiguates.
type DialogState string

const (
	DialogIdle    DialogState = "idle"
	DialogInvited DialogState = "invited" // outgoing only
	DialogTrying  DialogState = "trying"  // outgoing only

	DialogOffered  DialogState = "offered"  // incoming only
	DialogAlerting DialogState = "alerting" // incoming only

	DialogRinging     DialogState = "ringing" // outgoing only
	DialogEstablished DialogState = "established"
	DialogTerminating DialogState = "terminating"
)

// MediaInfo is the negotiated media parameters, populated once SDP
// offer/answer completes.
type MediaInfo struct {
	RemoteAddr        string
	RemotePort        int
	PayloadType       int
	Codec             string
	PayloadSampleRate int
	OpusSampleRate    int // 0 unless Codec == "opus"
}

// Dialog tracks the single active call a softphone line can have at once.
// A second INVITE while one is already active is rejected rather than
// tracked in a Call-ID-keyed map.
type Dialog struct {
	Direction Direction
	CallID    string

	LocalSessionID  string // 32-hex, generated once per dialog and held fixed
	RemoteSessionID string // starts all-zero, updated from peer's Session-ID

	LocalTag  string
	RemoteTag string

	PeerURI         string
	PeerDisplayName string
	PeerNumber      string

	LastVia           string
	LastFrom          string
	LastTo            string
	LastContact       string
	LastRoute         string
	LastRemotePartyID string
	LastDiversion     string
	LastSubject       string

	CSeq map[string]uint32 // per-method outbound CSeq counters

	State DialogState

	Media *MediaInfo

	RTP *media.RTPSession

	StartedAt time.Time
}

// NewDialog allocates a fresh dialog, generating a local session id
// before the first INVITE or first provisional response; it stays
// constant for the dialog's lifetime.
func NewDialog(direction Direction, callID string) *Dialog {
	return &Dialog{
		Direction:       direction,
		CallID:          callID,
		LocalSessionID:  newHex32(),
		RemoteSessionID: zeroHex32,
		CSeq:            make(map[string]uint32),
		State:           DialogIdle,
		StartedAt:       time.Now(),
	}
}

// zeroHex32 is the all-zero remote Session-ID a fresh outgoing dialog
// starts with.
const zeroHex32 = "00000000000000000000000000000000"[:32]

// newHex32 generates a random 32-hex-character string, used for
// local_session_id and local_tag.
func newHex32() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// the hex of the buffer as it stands (not random) rather than
		// panicking.
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b)
}

// NextCSeq returns the next outbound CSeq number for method, starting at
// the given initial value the first time it's called for that method.
func (d *Dialog) NextCSeq(method string, initial uint32) uint32 {
	if v, ok := d.CSeq[method]; ok {
		d.CSeq[method] = v + 1
		return d.CSeq[method]
	}
	d.CSeq[method] = initial
	return initial
}
