package xport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
	"nhooyr.io/websocket"

	"github.com/tor-wasm/transportcore/internal/logging"
)

const peerHandshakeBudget = 30 * time.Second

// brokerRequest and brokerResponse mirror the broker's small JSON
// protocol: the client asks to be matched with a volunteer proxy, then
// posts back its SDP answer.
type brokerRequest struct {
	Type          string                     `json:"type"`
	ProxyID       string                     `json:"proxy_id,omitempty"`
	SDPAnswer     *webrtc.SessionDescription `json:"sdp_answer,omitempty"`
	ICECandidates []webrtc.ICECandidateInit  `json:"ice_candidates,omitempty"`
}

type brokerResponse struct {
	Type          string                     `json:"type"`
	ProxyID       string                     `json:"proxy_id,omitempty"`
	SDPOffer      *webrtc.SessionDescription `json:"sdp_offer,omitempty"`
	ICECandidates []webrtc.ICECandidateInit  `json:"ice_candidates,omitempty"`
}

// PeerStream is the volunteer-relayed adapter of §4.5: a WebRTC data
// channel to a proxy matched by a broker, which dials the bridge on the
// client's behalf.
type PeerStream struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	st  *state
	log *slog.Logger
}

// DialPeer runs the broker handshake described in the design, then
// blocks until the proxy's data channel opens or the handshake budget
// elapses, and finally sends bridgeURL as the channel's first message.
func DialPeer(ctx context.Context, brokerURL, bridgeURL string, stunServers []string, log *slog.Logger) (*PeerStream, error) {
	log = logging.OrDefault(log)

	ctx, cancel := context.WithTimeout(ctx, peerHandshakeBudget)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, brokerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: broker dial: %v", ErrConnectionRefused, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsWriteJSON(ctx, conn, brokerRequest{Type: "request"}); err != nil {
		return nil, fmt.Errorf("%w: broker request: %v", ErrConnectionRefused, err)
	}

	var matched brokerResponse
	if err := wsReadJSON(ctx, conn, &matched); err != nil {
		return nil, fmt.Errorf("%w: broker response: %v", ErrConnectionRefused, err)
	}
	if matched.Type == "no_proxies" {
		return nil, fmt.Errorf("%w: no proxies available", ErrConnectionRefused)
	}
	if matched.Type != "matched" || matched.SDPOffer == nil {
		return nil, fmt.Errorf("%w: unexpected broker response %q", ErrInvalidData, matched.Type)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, s := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{s}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("%w: peer connection: %v", ErrConnectionRefused, err)
	}

	p := &PeerStream{pc: pc, st: newState(), log: log}

	dcReady := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			select {
			case dcReady <- dc:
			default:
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			p.st.push(msg.Data)
		})
		dc.OnClose(func() {
			p.st.closeLocal()
		})
	})

	if err := pc.SetRemoteDescription(*matched.SDPOffer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: set remote description: %v", ErrInvalidData, err)
	}
	for _, c := range matched.ICECandidates {
		if err := pc.AddICECandidate(c); err != nil {
			pc.Close()
			return nil, fmt.Errorf("%w: add ice candidate: %v", ErrInvalidData, err)
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: create answer: %v", ErrConnectionRefused, err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: set local description: %v", ErrConnectionRefused, err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, fmt.Errorf("%w: ice gathering", ErrTimedOut)
	}

	answerConn, _, err := websocket.Dial(ctx, brokerURL, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: broker reconnect: %v", ErrConnectionRefused, err)
	}
	defer answerConn.Close(websocket.StatusNormalClosure, "")

	localDesc := *pc.LocalDescription()
	reply := brokerRequest{
		Type:      "answer",
		ProxyID:   matched.ProxyID,
		SDPAnswer: &localDesc,
	}
	if err := wsWriteJSON(ctx, answerConn, reply); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: broker answer: %v", ErrConnectionRefused, err)
	}

	select {
	case dc := <-dcReady:
		p.dc = dc
	case <-ctx.Done():
		pc.Close()
		return nil, fmt.Errorf("%w: proxy data channel", ErrTimedOut)
	}

	p.st.setConnected()
	if err := p.dc.Send([]byte(bridgeURL)); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: send bridge url: %v", ErrConnectionReset, err)
	}

	log.Debug("peer-relayed connection established", logging.KeyBridgeURL, bridgeURL)
	return p, nil
}

func wsWriteJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func wsReadJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (p *PeerStream) Read(b []byte) (int, error) {
	return p.st.read(b)
}

func (p *PeerStream) Write(b []byte) (int, error) {
	if err := p.st.canWrite(); err != nil {
		return 0, err
	}
	if err := p.dc.Send(b); err != nil {
		p.st.fail(fmt.Errorf("%w: %v", ErrConnectionReset, err))
		return 0, p.st.getErr()
	}
	return len(b), nil
}

// Flush is a no-op: data channel sends are immediate.
func (p *PeerStream) Flush() error {
	return nil
}

func (p *PeerStream) Close() error {
	p.st.closeLocal()
	if p.dc != nil {
		_ = p.dc.Close()
	}
	return p.pc.Close()
}

func (p *PeerStream) Tag() Tag { return TagPeer }
