package codec_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/okian/decisionlog/internal/domain/codec"
	"github.com/okian/decisionlog/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEncodeEvent(t *testing.T) {
	convey.Convey("Given an event record", t, func() {
		ts := time.Date(2026, 10, 18, 12, 0, 0, 123, time.UTC)
		rec, err := model.NewEventRecord("evt-1", "v3", []int{2, 1}, []float64{0.75, 0.25}, "line1\nline2 \"quoted\"", ts)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When it is encoded", func() {
			b, err := codec.EncodeEvent(&rec)

			convey.Convey("Then the payload uses the documented schema and has no newline", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(bytes.IndexByte(b, '\n'), convey.ShouldEqual, -1)
				convey.So(string(b), convey.ShouldEqual,
					`{"EventId":"evt-1","v":"v3","a":[2,1],"p":[0.75,0.25],"c":"line1\nline2 \"quoted\"","t":"2026-10-18T12:00:00.000000123Z"}`)
			})

			convey.Convey("Then decoding restores the record", func() {
				got, err := codec.DecodeEvent(b)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.EventID, convey.ShouldEqual, rec.EventID)
				convey.So(got.ModelVersion, convey.ShouldEqual, rec.ModelVersion)
				convey.So(got.Ranking, convey.ShouldResemble, rec.Ranking)
				convey.So(got.Probabilities, convey.ShouldResemble, rec.Probabilities)
				convey.So(got.Features, convey.ShouldEqual, rec.Features)
				convey.So(got.Timestamp.Equal(rec.Timestamp), convey.ShouldBeTrue)
			})
		})
	})
}

func TestDecodeEventErrors(t *testing.T) {
	convey.Convey("Given malformed payloads", t, func() {
		cases := map[string]string{
			"not json":        `{"EventId":`,
			"missing id":      `{"v":"","a":[1],"p":[1],"c":"","t":"2026-10-18T12:00:00Z"}`,
			"bad timestamp":   `{"EventId":"e","a":[1],"p":[1],"t":"yesterday"}`,
			"length mismatch": `{"EventId":"e","a":[1,2],"p":[1],"t":"2026-10-18T12:00:00Z"}`,
		}
		for name, payload := range cases {
			_, err := codec.DecodeEvent([]byte(payload))
			convey.Convey("Then "+name+" fails to decode", func() {
				convey.So(errors.Is(err, codec.ErrDecode), convey.ShouldBeTrue)
			})
		}
	})
}

func TestEncodeReward(t *testing.T) {
	convey.Convey("Given a reward", t, func() {
		r, err := model.NewRewardRecord("evt-9", 1.0)
		convey.So(err, convey.ShouldBeNil)

		b, err := codec.EncodeReward(&r)

		convey.Convey("Then it is encoded with the raw value", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, `{"EventId":"evt-9","v":1}`)
		})
	})
}

func TestSplitBatch(t *testing.T) {
	convey.Convey("Given a batch body", t, func() {
		convey.So(codec.SplitBatch(nil), convey.ShouldBeNil)

		parts := codec.SplitBatch([]byte("a\nbb\nccc"))
		convey.So(len(parts), convey.ShouldEqual, 3)
		convey.So(string(parts[0]), convey.ShouldEqual, "a")
		convey.So(string(parts[2]), convey.ShouldEqual, "ccc")
	})
}
