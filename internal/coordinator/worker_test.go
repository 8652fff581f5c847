package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

func TestRegisterWorkerNegotiatesTransportAndIntersectsBinaries(t *testing.T) {
	svc, _, workers, _ := newTestService(t, Config{AllowedBinaries: []string{"ffmpeg", "ffprobe"}})

	result, err := svc.RegisterWorker(context.Background(), RegisterWorkerRequest{
		WorkerID:            "worker-1",
		Binaries:            []string{"ffmpeg", "rm", "curl"},
		Paths:               []string{"/media"},
		SupportedTransports: []string{"longpoll"},
	})

	require.NoError(t, err)
	assert.Equal(t, "longpoll", result.Transport)

	w, err := workers.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkerOnline, w.Status)
	assert.Equal(t, []string{"ffmpeg"}, []string(w.Binaries))
}

func TestRegisterWorkerRejectsNoMutualTransport(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})

	_, err := svc.RegisterWorker(context.Background(), RegisterWorkerRequest{
		WorkerID:            "worker-1",
		SupportedTransports: []string{"carrier-pigeon"},
	})

	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterWorkerKeepsAllBinariesWhenUnrestricted(t *testing.T) {
	svc, _, workers, _ := newTestService(t, Config{})

	_, err := svc.RegisterWorker(context.Background(), RegisterWorkerRequest{
		WorkerID:            "worker-1",
		Binaries:            []string{"ffmpeg", "anything"},
		SupportedTransports: []string{"longpoll"},
	})
	require.NoError(t, err)

	w, err := workers.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ffmpeg", "anything"}, []string(w.Binaries))
}

func TestDeregisterWorkerMarksOffline(t *testing.T) {
	svc, _, workers, _ := newTestService(t, Config{})
	_, err := svc.RegisterWorker(context.Background(), RegisterWorkerRequest{
		WorkerID:            "worker-1",
		SupportedTransports: []string{"longpoll"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeregisterWorker(context.Background(), "worker-1"))

	w, err := workers.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkerOffline, w.Status)
}
