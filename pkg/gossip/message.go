package gossip

import "fmt"

// NodeID names a node. It carries no internal structure.
type NodeID uint64

type MsgType uint8

const (
	MsgPushPullReq MsgType = iota + 1
	MsgPushPullResp
)

func (t MsgType) String() string {
	switch t {
	case MsgPushPullReq:
		return "push_pull_req"
	case MsgPushPullResp:
		return "push_pull_resp"
	default:
		return fmt.Sprintf("msg_type(%d)", uint8(t))
	}
}

// Request asks To to take part in a shuffle initiated by From.
type Request struct {
	From NodeID
	To   NodeID
}

// Response answers a Request. A nil Selected means the responder declined.
type Response struct {
	From     NodeID
	To       NodeID
	Selected *NodeID
}

// SelectedPeer returns the peer handed over by the responder, if any.
func (r Response) SelectedPeer() (NodeID, bool) {
	if r.Selected == nil {
		return 0, false
	}
	return *r.Selected, true
}

// SchemaVersion is stamped on every outgoing GossipMsg.
const SchemaVersion uint16 = 1

// GossipMsg is the envelope that travels over a Transport.
type GossipMsg struct {
	Type     MsgType
	From     NodeID
	To       NodeID
	Selected *NodeID // MsgPushPullResp only
	SchemaV  uint16
}

func RequestMsg(req Request) GossipMsg {
	return GossipMsg{Type: MsgPushPullReq, From: req.From, To: req.To, SchemaV: SchemaVersion}
}

func ResponseMsg(resp Response) GossipMsg {
	m := GossipMsg{Type: MsgPushPullResp, From: resp.From, To: resp.To, SchemaV: SchemaVersion}
	if resp.Selected != nil {
		sel := *resp.Selected
		m.Selected = &sel
	}
	return m
}

func (m GossipMsg) Request() Request {
	return Request{From: m.From, To: m.To}
}

func (m GossipMsg) Response() Response {
	r := Response{From: m.From, To: m.To}
	if m.Selected != nil {
		sel := *m.Selected
		r.Selected = &sel
	}
	return r
}
