package trials_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/banshee-data/ophys.report/internal/trials"
)

const sessionUUID = "7d1c2a7e-3b5f-4c1d-9a2e-0f6b8c4d2e1a"

func floatPtr(f float64) *float64 { return &f }

func sampleTrials() []trials.ExtendedTrial {
	return []trials.ExtendedTrial{
		{
			Trial:               0,
			BehaviorSessionUUID: sessionUUID,
			StartTime:           10.0,
			StopTime:            18.25,
			TrialLength:         8.25,
			ChangeTime:          floatPtr(13.0),
			InitialImageName:    "im065",
			ChangeImageName:     "im077",
			TrialType:           "go",
			ResponseType:        "HIT",
			ResponseLatency:     floatPtr(0.42),
			RewardVolume:        0.007,
			LickTimes:           []float64{13.42, 13.6},
			RewardTimes:         []float64{13.43},
			StimulusChanged:     true,
		},
		{
			Trial:               1,
			BehaviorSessionUUID: sessionUUID,
			StartTime:           18.25,
			StopTime:            24.0,
			TrialLength:         5.75,
			InitialImageName:    "im077",
			ChangeImageName:     "im077",
			TrialType:           "catch",
			ResponseType:        "CR",
		},
	}
}

func TestColumns(t *testing.T) {
	is := is.New(t)

	is.Equal(len(trials.Columns), 16) // one column per field
	is.True(strings.Contains(strings.Join(trials.Columns, ","), "behavior_session_uuid"))
}

func TestValidate_Valid(t *testing.T) {
	is := is.New(t)
	is.NoErr(trials.Validate(sampleTrials())) // sample trials are valid
	is.NoErr(trials.Validate(nil))            // empty table is valid
}

func TestValidate_AggregatesErrors(t *testing.T) {
	is := is.New(t)

	bad := sampleTrials()
	bad[0].BehaviorSessionUUID = "not-a-uuid"
	bad[0].TrialType = "maybe"
	bad[1].StopTime = 1.0
	bad[1].LickTimes = []float64{-1}

	err := trials.Validate(bad)
	var verr *trials.ValidationError
	is.True(errors.As(err, &verr)) // ValidationError
	is.Equal(verr.Len(), 4)        // every violation reported

	msg := err.Error()
	is.True(strings.Contains(msg, "trial 0: behavior_session_uuid \"not-a-uuid\" is not a UUID"))
	is.True(strings.Contains(msg, "trial 0: trial_type \"maybe\" must be one of"))
	is.True(strings.Contains(msg, "trial 1: stop_time must not precede start_time"))
}

func TestValidate_MissingUUID(t *testing.T) {
	is := is.New(t)

	bad := sampleTrials()[:1]
	bad[0].BehaviorSessionUUID = ""

	err := trials.Validate(bad)
	is.True(err != nil) // empty uuid rejected
	is.True(strings.Contains(err.Error(), "behavior_session_uuid is required"))
}

func TestDumpLoad_RoundTrip(t *testing.T) {
	is := is.New(t)

	records, err := trials.Dump(sampleTrials())
	is.NoErr(err)
	is.Equal(len(records), 2)
	is.Equal(records[1]["change_time"], nil) // nullable column kept as null

	loaded, err := trials.Load(records)
	is.NoErr(err)
	is.Equal(loaded[0].ResponseType, "HIT")
	is.Equal(*loaded[0].ChangeTime, 13.0)
	is.Equal(loaded[0].LickTimes, []float64{13.42, 13.6})
	is.Equal(loaded[1].ChangeTime, nil)
}

func TestLoad_DroppedColumnFails(t *testing.T) {
	is := is.New(t)

	records, err := trials.Dump(sampleTrials())
	is.NoErr(err)
	for _, rec := range records {
		delete(rec, "behavior_session_uuid")
	}

	_, err = trials.Load(records)
	var verr *trials.ValidationError
	is.True(errors.As(err, &verr)) // schema failure
	is.Equal(verr.Len(), 2)        // one per trial
	is.True(strings.Contains(err.Error(), "missing columns behavior_session_uuid"))
}

func TestLoad_WrongType(t *testing.T) {
	is := is.New(t)

	records, err := trials.Dump(sampleTrials()[:1])
	is.NoErr(err)
	records[0]["start_time"] = "ten"

	_, err = trials.Load(records)
	is.True(err != nil) // type mismatch rejected
}
