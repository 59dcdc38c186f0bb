package ws

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// encodeEvent renders ev as a protobuf Struct:
//
//	{type: "event", channel, [stream_id], event: {id, contract, seq, kind,
//	 account, auction, amount, item, duration_seconds, at}}
//
// stream_id is set on replayed frames only. Amounts are decimal wei
// strings; numbers in a Struct are doubles.
func encodeEvent(ev domain.Event, streamID string) ([]byte, error) {
	body := map[string]any{
		"id":       ev.ID,
		"contract": ev.Contract.Hex(),
		"seq":      float64(ev.Seq),
		"kind":     string(ev.Kind),
		"account":  ev.Account.Hex(),
		"auction":  ev.Auction.Hex(),
		"at":       ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Amount != nil {
		body["amount"] = ev.Amount.String()
	}
	if ev.Item != "" {
		body["item"] = ev.Item
	}
	if ev.DurationSeconds != 0 {
		body["duration_seconds"] = float64(ev.DurationSeconds)
	}

	frame := map[string]any{
		"type":    "event",
		"channel": domain.AuctionChannel(ev.Auction),
		"event":   body,
	}
	if streamID != "" {
		frame["stream_id"] = streamID
	}
	return marshalStruct(frame)
}

func encodeStatus(mode string, uptimeSeconds int64, replayed int) ([]byte, error) {
	return marshalStruct(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"mode":           mode,
			"ws_connected":   true,
			"uptime_seconds": float64(uptimeSeconds),
			"replayed":       float64(replayed),
		},
	})
}

func marshalStruct(m map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// DecodeFrame parses a frame written by the hub back into a map. It is the
// client-side counterpart of the frame encoding.
func DecodeFrame(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
