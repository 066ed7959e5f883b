package models

import (
	"math"
	"time"
)

// PlateReading 一次不可变的餐盘称重观测
type PlateReading struct {
	ReadingID    string    `json:"readingId"`
	PlateSection string    `json:"plateSection"`
	Weight       float64   `json:"weight"`
	Change       float64   `json:"change"`
	Timestamp    time.Time `json:"timestamp"`
}

// AbsChange 变化量绝对值
func (r PlateReading) AbsChange() float64 {
	return math.Abs(r.Change)
}

// ReadingEvent 流中传递的读数事件（meal_id 来自事件路径）
type ReadingEvent struct {
	MealID   string       `json:"mealId"`
	DeviceID string       `json:"deviceId,omitempty"`
	Reading  PlateReading `json:"reading"`
	// ReceivedAt 网关接收时间（unix 毫秒）
	ReceivedAt int64 `json:"receivedAt"`
}
