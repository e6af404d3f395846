package protocols

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/models"
	"market-streamer/src/serializers"
)

// ErrMalformedMessage marks an inbound payload that does not match any known envelope
var ErrMalformedMessage = errors.New("malformed message")

// zone-less ISO-8601 layouts, as produced by e.g. Python's datetime.isoformat()
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// JSONProtocol implements interfaces.IProtocol for the JSON price stream:
//
//	client -> server  {"action": "subscribe"|"unsubscribe", "securities": [...]}
//	server -> client  flat data message, {"type": "data", "data": {...}},
//	                  {"type": "subscription_confirmed", "securities": [...]},
//	                  {"type": "error", "error": "..."}
type JSONProtocol struct {
	Name       string
	Location   *time.Location
	Serializer interfaces.ISerializer
}

// inbound mirrors every field an inbound message may carry
type inbound struct {
	Type       string             `json:"type"`
	Securities []string           `json:"securities"`
	Error      string             `json:"error"`
	Data       *models.MRawUpdate `json:"data"`
	models.MRawUpdate
}

// -----------------------------------------------------------------------------
// CONSTRUCTOR AND REGISTRATION
// -----------------------------------------------------------------------------

func init() {
	if err := Register("json", NewJSONProtocol); err != nil {
		fmt.Printf("Error registering json protocol: %v\n", err)
	}
}

// -----------------------------------------------------------------------------

// NewJSONProtocol creates a new JSON protocol codec.
// Matches the interfaces.IProtocolConstructor signature.
func NewJSONProtocol(options interfaces.ProtocolOptions) (interfaces.IProtocol, error) {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	return &JSONProtocol{
		Name:       "json",
		Location:   loc,
		Serializer: serializers.NewJSONSerializer(),
	}, nil
}

// -----------------------------------------------------------------------------
// IProtocol IMPLEMENTATION
// -----------------------------------------------------------------------------

// GetName returns the protocol name
func (p *JSONProtocol) GetName() string {
	return p.Name
}

// -----------------------------------------------------------------------------

// EncodeSubscribe creates the subscription message carrying the full desired set
func (p *JSONProtocol) EncodeSubscribe(keys []string) ([]byte, error) {
	return p.encode(models.ActionSubscribe, keys)
}

// -----------------------------------------------------------------------------

// EncodeUnsubscribe creates the unsubscription message
func (p *JSONProtocol) EncodeUnsubscribe(keys []string) ([]byte, error) {
	return p.encode(models.ActionUnsubscribe, keys)
}

// -----------------------------------------------------------------------------

// Decode routes an inbound payload to a data, control or error envelope.
// Every failure wraps ErrMalformedMessage.
func (p *JSONProtocol) Decode(message []byte) (*models.MEnvelope, error) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case "subscription_confirmed":
		return &models.MEnvelope{
			Kind:    models.EnvelopeControl,
			Control: &models.MControlMessage{Type: msg.Type, Securities: msg.Securities},
		}, nil
	case "error":
		return &models.MEnvelope{Kind: models.EnvelopeError, Error: msg.Error}, nil
	case "data":
		if msg.Data == nil {
			return nil, fmt.Errorf("%w: data message without payload", ErrMalformedMessage)
		}
		return p.dataEnvelope(msg.Data)
	case "":
		update := msg.MRawUpdate
		return p.dataEnvelope(&update)
	default:
		return nil, fmt.Errorf("%w: unknown message type '%s'", ErrMalformedMessage, msg.Type)
	}
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

func (p *JSONProtocol) encode(action models.MSubscriptionAction, keys []string) ([]byte, error) {
	securities := keys
	if securities == nil {
		securities = []string{}
	}
	data, err := p.Serializer.Marshal(models.MSubscriptionMessage{
		Action:     action,
		Securities: securities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s message: %w", action, err)
	}
	return data, nil
}

// -----------------------------------------------------------------------------

// dataEnvelope validates a data payload and parses its timestamp
func (p *JSONProtocol) dataEnvelope(update *models.MRawUpdate) (*models.MEnvelope, error) {
	if strings.TrimSpace(update.Security) == "" {
		return nil, fmt.Errorf("%w: data message without security", ErrMalformedMessage)
	}
	ts, err := ParseTimestamp(update.Timestamp, p.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	update.Time = ts
	return &models.MEnvelope{Kind: models.EnvelopeData, Update: update}, nil
}

// -----------------------------------------------------------------------------

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone offset
// are interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp '%s'", value)
}
