// Package trials defines the extended behavior trial record and validates
// trial tables against it.
package trials

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/go-playground/validator.v9"
)

// ExtendedTrial is one trial of a change detection behavior session.
// Pointer fields are nullable columns.
type ExtendedTrial struct {
	Trial               int       `json:"trial" validate:"gte=0"`
	BehaviorSessionUUID string    `json:"behavior_session_uuid" validate:"required,session_uuid"`
	StartTime           float64   `json:"start_time" validate:"gte=0"`
	StopTime            float64   `json:"stop_time" validate:"gtefield=StartTime"`
	TrialLength         float64   `json:"trial_length" validate:"gte=0"`
	ChangeTime          *float64  `json:"change_time"`
	InitialImageName    string    `json:"initial_image_name"`
	ChangeImageName     string    `json:"change_image_name"`
	TrialType           string    `json:"trial_type" validate:"oneof=go catch aborted autorewarded"`
	ResponseType        string    `json:"response_type" validate:"oneof=HIT MISS CR FA EARLY_RESPONSE"`
	ResponseLatency     *float64  `json:"response_latency" validate:"omitempty,gte=0"`
	RewardVolume        float64   `json:"reward_volume" validate:"gte=0"`
	AutoRewarded        bool      `json:"auto_rewarded"`
	LickTimes           []float64 `json:"lick_times" validate:"dive,gte=0"`
	RewardTimes         []float64 `json:"reward_times" validate:"dive,gte=0"`
	StimulusChanged     bool      `json:"stimulus_changed"`
}

// Columns lists the column names every trial record must carry.
var Columns = jsonNames(reflect.TypeOf(ExtendedTrial{}))

// ValidationError aggregates every schema violation found in a trial table.
type ValidationError struct {
	Errs *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("extended trials failed validation: %v", e.Errs)
}

func (e *ValidationError) Unwrap() error { return e.Errs }

// Len returns the number of violations.
func (e *ValidationError) Len() int { return e.Errs.Len() }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("session_uuid", func(fl validator.FieldLevel) bool {
		_, err := uuid.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks every trial and reports all violations at once.
func Validate(trials []ExtendedTrial) error {
	var errs *multierror.Error
	for i := range trials {
		errs = multierror.Append(errs, validateTrial(i, &trials[i])...)
	}
	if errs.ErrorOrNil() == nil {
		return nil
	}
	errs.ErrorFormat = listFormat
	return &ValidationError{Errs: errs}
}

func validateTrial(index int, t *ExtendedTrial) []error {
	err := validate.Struct(t)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{fmt.Errorf("trial %d: %w", index, err)}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError(index, fe))
	}
	return out
}

func fieldError(index int, fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("trial %d: %s is required", index, fe.Field())
	case "session_uuid":
		return fmt.Errorf("trial %d: %s %q is not a UUID", index, fe.Field(), fe.Value())
	case "oneof":
		return fmt.Errorf("trial %d: %s %q must be one of [%s]", index, fe.Field(), fe.Value(), fe.Param())
	case "gtefield":
		return fmt.Errorf("trial %d: %s must not precede %s", index, fe.Field(), "start_time")
	default:
		return fmt.Errorf("trial %d: %s failed %s=%s (value %v)", index, fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
}

func listFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d error(s): %s", len(errs), strings.Join(msgs, "; "))
}

// Load decodes and validates a trial table given as one record per trial.
// Every record must carry every column; nullable columns may hold null.
func Load(records []map[string]any) ([]ExtendedTrial, error) {
	var errs *multierror.Error
	out := make([]ExtendedTrial, len(records))
	for i, rec := range records {
		if missing := missingColumns(rec); len(missing) > 0 {
			errs = multierror.Append(errs, fmt.Errorf("trial %d: missing columns %s", i, strings.Join(missing, ", ")))
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("trial %d: %w", i, err))
			continue
		}
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("trial %d: %w", i, err))
			continue
		}
		errs = multierror.Append(errs, validateTrial(i, &out[i])...)
	}
	if errs.ErrorOrNil() != nil {
		errs.ErrorFormat = listFormat
		return nil, &ValidationError{Errs: errs}
	}
	return out, nil
}

// Dump renders trials as one record per trial keyed by column name.
func Dump(trials []ExtendedTrial) ([]map[string]any, error) {
	out := make([]map[string]any, len(trials))
	for i := range trials {
		raw, err := json.Marshal(&trials[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode trial %d: %w", i, err)
		}
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("failed to decode trial %d: %w", i, err)
		}
	}
	return out, nil
}

func missingColumns(rec map[string]any) []string {
	var missing []string
	for _, col := range Columns {
		if _, ok := rec[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

func jsonNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
