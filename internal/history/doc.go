// Package history is the historical event store of the home gateway.
//
// Every device state change, sensor reading, system metric, audit record
// and discovery event is recorded once and kept in two tiers:
//
//   - hot: bounded in-memory buckets per device, per sensor and per
//     shared category, answering recent queries without disk I/O
//   - cold: a compressed archive with one file per category and day
//
// A tiering coordinator moves the oldest events of a bucket to the archive
// once it passes its high watermark, trimming memory only after the write
// is durable. Queries span both tiers transparently. Recorded events are
// also fanned out to live subscribers on a best-effort basis; a subscriber
// that falls behind misses events and must query to catch up.
//
// Usage:
//
//	svc, err := history.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(); err != nil {
//	    return err
//	}
//	defer svc.Stop()
//
//	err = svc.Record(types.NewEvent(types.SensorData{
//	    SensorID: "temp-1",
//	    Value:    21.5,
//	}, types.SensorSource("temp-1")))
//
//	res := svc.Query().
//	    Since(time.Now().Add(-24 * time.Hour)).
//	    Categories(types.CategorySensorReading).
//	    Execute(ctx)
package history
