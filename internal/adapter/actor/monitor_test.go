package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
	"github.com/robynrox/evse-controller/internal/util"
	"github.com/robynrox/evse-controller/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakePowerMonitor struct {
	mu        sync.Mutex
	calls     int
	failCalls int
}

func (f *fakePowerMonitor) Sample(ctx context.Context, prev *domain.PowerSample) (*domain.PowerSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCalls > 0 {
		f.failCalls--
		return nil, errors.New("simulated monitor failure")
	}
	f.calls++
	sample := &domain.PowerSample{
		GridWatts:    1000,
		EvseWatts:    -500,
		VoltageVolts: 230,
		UnixTime:     time.Now().Unix(),
	}
	if prev != nil {
		sample.GridImportedJoules = prev.GridImportedJoules + 1
	}
	return sample, nil
}

func TestMonitorActorPublishesSamples(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	monitor := &fakePowerMonitor{}
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	var mu sync.Mutex
	var samples []domain.PowerSampleEvent
	es.Subscribe(func(value any) {
		if ev, ok := value.(domain.PowerSampleEvent); ok {
			mu.Lock()
			samples = append(samples, ev)
			mu.Unlock()
		}
	})

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMonitorActor(&cfg, monitor, &es, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	count := len(samples)
	last := domain.PowerSampleEvent{}
	if count > 0 {
		last = samples[count-1]
	}
	mu.Unlock()

	assert.True(count >= 3, "at least three samples at 100 ms")
	assert.InDelta(1000.0, last.Sample.GridWatts, 1e-9)
	assert.InDelta(1500.0, last.Sample.HomeWatts(), 1e-9)
	// each call saw the previous sample, so the accumulator kept growing
	assert.True(last.Sample.GridImportedJoules >= 2, "accumulator chained through prev")

	health, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(health.(domain.ActorHealthResponse).Healthy)

	context.Stop(pid)
	as.Shutdown()
}

func TestMonitorActorKeepsTickingThroughErrors(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	monitor := &fakePowerMonitor{failCalls: 3}
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root
	es := eventstream.EventStream{}

	var mu sync.Mutex
	count := 0
	es.Subscribe(func(value any) {
		if _, ok := value.(domain.PowerSampleEvent); ok {
			mu.Lock()
			count++
			mu.Unlock()
		}
	})

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMonitorActor(&cfg, monitor, &es, logger)
	})
	pid := context.Spawn(props)

	time.Sleep(800 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	assert.True(got >= 2, "sampling resumed after failures")

	context.Stop(pid)
	as.Shutdown()
}
