package player

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/technosupport/ts-streamgw/internal/gateway"
)

// Signaler exchanges an SDP offer for an answer. Implemented by
// gateway.Client.
type Signaler interface {
	NegotiateWebRTC(ctx context.Context, streamID, offerSDP string) (*gateway.SessionDescription, error)
}

// WebRTCStage is the preferred transport: sub-second latency, direct
// media over SRTP.
type WebRTCStage struct {
	Signaler   Signaler
	ICEServers []string
}

func (s *WebRTCStage) Name() string { return "webrtc" }

func (s *WebRTCStage) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	var iceServers []webrtc.ICEServer
	for _, u := range s.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	cleanup := func(err error) (io.Closer, error) {
		pc.Close()
		return nil, err
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return cleanup(fmt.Errorf("add video transceiver: %w", err))
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return cleanup(fmt.Errorf("add audio transceiver: %w", err))
	}

	connected := make(chan struct{})
	failed := make(chan struct{})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			select {
			case <-connected:
			default:
				close(connected)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			select {
			case <-failed:
			default:
				close(failed)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return cleanup(fmt.Errorf("create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return cleanup(fmt.Errorf("set local description: %w", err))
	}

	// Wait for ICE gathering so the offer carries all candidates;
	// the signaling endpoint does not support trickle.
	gatherDone := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return cleanup(ctx.Err())
	case <-time.After(5 * time.Second):
		return cleanup(fmt.Errorf("ice gathering timed out"))
	}

	local := pc.LocalDescription()
	answer, err := s.Signaler.NegotiateWebRTC(ctx, streamID, local.SDP)
	if err != nil {
		return cleanup(err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return cleanup(fmt.Errorf("set remote description: %w", err))
	}

	select {
	case <-connected:
		return pc, nil
	case <-failed:
		return cleanup(fmt.Errorf("peer connection failed"))
	case <-ctx.Done():
		return cleanup(ctx.Err())
	}
}
