package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
)

// ErrMalformedRule marks a rule whose stored conditions or actions cannot be
// decoded. Such rules never fire.
var ErrMalformedRule = errors.New("automation: malformed rule")

// Operator is a condition comparison.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
	OpContains    Operator = "CONTAINS"
)

func (o Operator) valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains:
		return true
	}
	return false
}

// Field names a value a condition can inspect.
type Field string

const (
	FieldPlayerName      Field = "player.name"
	FieldPlayerID        Field = "player.id"
	FieldPlayerTeam      Field = "player.team"
	FieldPlayerVehicle   Field = "player.vehicle"
	FieldPlayerCallsign  Field = "player.callsign"
	FieldServerPlayers   Field = "server.playerCount"
	FieldServerMaxPlayer Field = "server.maxPlayers"
	FieldServerJoinKey   Field = "server.joinKey"
)

func (f Field) valid() bool {
	switch f {
	case FieldPlayerName, FieldPlayerID, FieldPlayerTeam, FieldPlayerVehicle, FieldPlayerCallsign,
		FieldServerPlayers, FieldServerMaxPlayer, FieldServerJoinKey:
		return true
	}
	return false
}

func (f Field) needsServer() bool {
	return strings.HasPrefix(string(f), "server.")
}

// Condition is a single field/operator/value test. All of a rule's
// conditions must hold for it to fire.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    scalar   `json:"value"`
}

// scalar accepts a JSON string, number or boolean and keeps its text form.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar(str)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*s = scalar(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*s = scalar(strconv.FormatBool(v))
	case nil:
		*s = ""
	default:
		return fmt.Errorf("unsupported condition value %s", data)
	}
	return nil
}

// ParseConditions decodes a rule's condition list. An empty payload means no
// conditions. Objects (the time-rule schedule form) carry no conditions.
func ParseConditions(raw json.RawMessage) ([]Condition, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		return nil, nil
	}

	var conds []Condition
	if err := json.Unmarshal(raw, &conds); err != nil {
		return nil, fmt.Errorf("%w: conditions: %v", ErrMalformedRule, err)
	}
	for i, c := range conds {
		if !c.Field.valid() {
			return nil, fmt.Errorf("%w: condition %d: unknown field %q", ErrMalformedRule, i, c.Field)
		}
		if !c.Operator.valid() {
			return nil, fmt.Errorf("%w: condition %d: unknown operator %q", ErrMalformedRule, i, c.Operator)
		}
	}
	return conds, nil
}

// snapshotFunc returns the tenant's server snapshot, fetching it at most once.
type snapshotFunc func() (*prc.ServerStatus, error)

// evaluate reports whether every condition holds.
func evaluate(conds []Condition, tc models.TriggerContext, snapshot snapshotFunc) bool {
	for _, c := range conds {
		actual, ok := resolveField(c.Field, tc, snapshot)
		if !ok || !compare(c.Operator, actual, string(c.Value)) {
			return false
		}
	}
	return true
}

func resolveField(f Field, tc models.TriggerContext, snapshot snapshotFunc) (string, bool) {
	if f.needsServer() {
		status, err := snapshot()
		if err != nil || status == nil {
			return "", false
		}
		switch f {
		case FieldServerPlayers:
			return strconv.Itoa(status.CurrentPlayers), true
		case FieldServerMaxPlayer:
			return strconv.Itoa(status.MaxPlayers), true
		case FieldServerJoinKey:
			return status.JoinKey, true
		}
		return "", false
	}

	p := tc.Player
	if p == nil {
		p = &models.PlayerContext{}
	}
	switch f {
	case FieldPlayerName:
		return p.Name, true
	case FieldPlayerID:
		return p.ID, true
	case FieldPlayerTeam:
		return p.Team, true
	case FieldPlayerVehicle:
		return p.Vehicle, true
	case FieldPlayerCallsign:
		return p.Callsign, true
	}
	return "", false
}

func compare(op Operator, actual, want string) bool {
	switch op {
	case OpEquals:
		return actual == want
	case OpNotEquals:
		return actual != want
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(want))
	case OpGreaterThan, OpLessThan:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		w, errW := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if errA != nil || errW != nil {
			return false
		}
		if op == OpGreaterThan {
			return a > w
		}
		return a < w
	}
	return false
}

// scheduleConfig is the object form of a time rule's conditions.
type scheduleConfig struct {
	IntervalMinutes scalar `json:"intervalMinutes"`
}

const defaultIntervalMinutes = 60

// IntervalMinutes reads a time rule's interval, defaulting to 60 minutes.
func IntervalMinutes(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return defaultIntervalMinutes
	}
	var cfg scheduleConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return defaultIntervalMinutes
	}
	n, err := strconv.Atoi(string(cfg.IntervalMinutes))
	if err != nil || n <= 0 {
		return defaultIntervalMinutes
	}
	return n
}
