package consumer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrInvalidPayload 设备上报内容无法解析
var ErrInvalidPayload = errors.New("invalid plate reading payload")

// MealIDFromTopic 从主题中提取餐次 ID
// 主题格式: meals/{meal_id}/plate-readings
func MealIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "meals" || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}

// ParsePlatePayload 解析设备上报的单条读数
// plateSection / weight / change 必填；timestamp 缺省时使用 receivedAt
func ParsePlatePayload(mealID string, payload []byte, receivedAt time.Time) (models.ReadingEvent, error) {
	if !gjson.ValidBytes(payload) {
		return models.ReadingEvent{}, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	root := gjson.ParseBytes(payload)

	section := strings.TrimSpace(root.Get("plateSection").String())
	if section == "" {
		return models.ReadingEvent{}, fmt.Errorf("%w: missing plateSection", ErrInvalidPayload)
	}
	weight, err := requiredNumber(root, "weight")
	if err != nil {
		return models.ReadingEvent{}, err
	}
	change, err := requiredNumber(root, "change")
	if err != nil {
		return models.ReadingEvent{}, err
	}

	ts := receivedAt
	if v := root.Get("timestamp"); v.Exists() && v.Type != gjson.Null {
		ts, err = parseTimestamp(v)
		if err != nil {
			return models.ReadingEvent{}, err
		}
	}

	readingID := root.Get("readingId").String()
	if readingID == "" {
		readingID = uuid.NewString()
	}

	return models.ReadingEvent{
		MealID:   mealID,
		DeviceID: root.Get("deviceId").String(),
		Reading: models.PlateReading{
			ReadingID:    readingID,
			PlateSection: section,
			Weight:       weight,
			Change:       change,
			Timestamp:    ts.UTC(),
		},
		ReceivedAt: receivedAt.UnixMilli(),
	}, nil
}

func requiredNumber(root gjson.Result, field string) (float64, error) {
	v := root.Get(field)
	if !v.Exists() || v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: missing or non-numeric %s", ErrInvalidPayload, field)
	}
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrInvalidPayload, field)
	}
	return f, nil
}

// parseTimestamp 支持 RFC3339 字符串、unix 秒/毫秒数字、{_seconds,_nanoseconds} 对象
func parseTimestamp(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidPayload, v.String())
		}
		return t, nil
	case gjson.Number:
		n := v.Int()
		// 大于 1e12 视为毫秒
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	case gjson.JSON:
		sec := v.Get("_seconds")
		if !sec.Exists() {
			sec = v.Get("seconds")
		}
		if sec.Type != gjson.Number {
			return time.Time{}, fmt.Errorf("%w: bad timestamp object", ErrInvalidPayload)
		}
		nanos := v.Get("_nanoseconds")
		if !nanos.Exists() {
			nanos = v.Get("nanoseconds")
		}
		return time.Unix(sec.Int(), nanos.Int()), nil
	}
	return time.Time{}, fmt.Errorf("%w: unsupported timestamp type", ErrInvalidPayload)
}
