package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dancegen/api/internal/client"
	"github.com/dancegen/api/internal/config"
	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/progress"
	"github.com/dancegen/api/internal/registry"
	"github.com/dancegen/api/internal/storage"
)

// copyTranscoder pretends to convert by copying the input.
type copyTranscoder struct {
	calls atomic.Int32
}

func (c *copyTranscoder) Available() bool { return true }

func (c *copyTranscoder) Convert(ctx context.Context, in, out string) error {
	c.calls.Add(1)
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// funcBackend lets each test script the model call.
type funcBackend func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error)

func (f funcBackend) Name() string { return "func" }

func (f funcBackend) Generate(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
	return f(ctx, req)
}

type fakeExporter struct {
	err error
}

func (e *fakeExporter) Available() bool { return true }

func (e *fakeExporter) Export(ctx context.Context, motionPath, outputDir string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	path := filepath.Join(outputDir, strings.TrimSuffix(filepath.Base(motionPath), ".pkl")+".fbx")
	return path, os.WriteFile(path, []byte("fbx"), 0o644)
}

type fakeMirror struct {
	mu      sync.Mutex
	uploads []string
	deletes []string

	// When set, the first Upload closes entered and waits for release.
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *fakeMirror) Upload(ctx context.Context, key, path string) (string, error) {
	if m.release != nil {
		m.once.Do(func() {
			close(m.entered)
			<-m.release
		})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, key)
	return "https://cdn.test/" + key, nil
}

func (m *fakeMirror) recorded() (uploads, deletes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...), append([]string(nil), m.deletes...)
}

func (m *fakeMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	return nil
}

// recordingSink keeps every committed snapshot per job.
type recordingSink struct {
	mu     sync.Mutex
	events map[string][]model.Job
}

func (s *recordingSink) Publish(ev registry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string][]model.Job)
	}
	s.events[ev.Job.ID] = append(s.events[ev.Job.ID], ev.Job)
}

func (s *recordingSink) history(id string) []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Job(nil), s.events[id]...)
}

// goDispatcher runs each job on its own goroutine like the local dispatcher.
type goDispatcher struct {
	orch *Orchestrator
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs map[string]error
}

func (d *goDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.orch.Run(context.Background(), jobID)
		d.mu.Lock()
		d.errs[jobID] = err
		d.mu.Unlock()
	}()
	return nil
}

func (d *goDispatcher) runErr(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs[jobID]
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return errors.New("queue unavailable")
}

type fixtureOptions struct {
	transcoder    client.Transcoder
	backend       client.MotionBackend
	exporter      client.Exporter
	mirror        storage.ObjectMirror
	exportEnabled bool
	estimate      time.Duration
}

type fixture struct {
	reg     *registry.Registry
	store   *storage.ArtifactStore
	sink    *recordingSink
	orch    *Orchestrator
	disp    *goDispatcher
	svc     *DanceService
	uploads *UploadService
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	if opts.transcoder == nil {
		opts.transcoder = &copyTranscoder{}
	}
	if opts.backend == nil {
		opts.backend = client.NewMockBackend(0)
	}
	if opts.estimate == 0 {
		opts.estimate = 50 * time.Millisecond
	}

	store, err := storage.NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	sink := &recordingSink{}
	reg := registry.New(registry.WithSink(sink))
	logger := zap.NewNop()
	estimator := progress.NewEstimator(reg, 5*time.Millisecond, logger)
	invoker := client.NewInvoker(opts.backend, "", 0)

	mirror := opts.mirror
	orch := NewOrchestrator(reg, store, opts.transcoder, invoker, opts.exporter, mirror, estimator,
		OrchestratorConfig{EstimateDuration: opts.estimate, ExportEnabled: opts.exportEnabled}, logger)
	disp := &goDispatcher{orch: orch, errs: make(map[string]error)}
	svc := NewDanceService(reg, store, disp, mirror, map[string]ServiceCheck{
		"transcoder": func(context.Context) bool { return opts.transcoder.Available() },
	}, logger)

	t.Cleanup(disp.wg.Wait)

	return &fixture{
		reg:     reg,
		store:   store,
		sink:    sink,
		orch:    orch,
		disp:    disp,
		svc:     svc,
		uploads: NewUploadService(store, 1<<20),
	}
}

func (f *fixture) upload(t *testing.T, name string) string {
	t.Helper()
	resp, err := f.uploads.Upload(name, 16, strings.NewReader("five seconds of audio"))
	require.NoError(t, err)
	return resp.UploadID
}

func (f *fixture) start(t *testing.T, req *model.GenerateRequest) string {
	t.Helper()
	resp, err := f.svc.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, resp.Status)
	return resp.JobID
}

func (f *fixture) waitTerminal(t *testing.T, jobID string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.reg.Get(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	f.disp.wg.Wait()
	return job
}

// assertHistory checks the observable job invariants over every committed snapshot.
func assertHistory(t *testing.T, history []model.Job) {
	t.Helper()
	require.NotEmpty(t, history)
	assert.Equal(t, model.JobStatusQueued, history[0].Status)

	for i, j := range history {
		if j.Status.IsTerminal() {
			assert.True(t, (j.Result != nil) != (j.Error != nil), "exactly one of result/error at %d", i)
		} else {
			assert.Nil(t, j.Result, "result before terminal at %d", i)
			assert.Nil(t, j.Error, "error before terminal at %d", i)
		}
		assert.Equal(t, j.Status == model.JobStatusCompleted, j.Progress == 100, "progress 100 iff completed at %d", i)
		if i == 0 {
			continue
		}
		prev := history[i-1]
		assert.GreaterOrEqual(t, j.Progress, prev.Progress, "progress regressed at %d", i)
		assert.True(t, prev.Status.CanTransitionTo(j.Status), "%s -> %s at %d", prev.Status, j.Status, i)
	}
}

func messages(history []model.Job) []string {
	var out []string
	for _, j := range history {
		if len(out) == 0 || out[len(out)-1] != j.Message {
			out = append(out, j.Message)
		}
	}
	return out
}

func TestGenerate_HappyPathMP3(t *testing.T) {
	tc := &copyTranscoder{}
	f := newFixture(t, fixtureOptions{transcoder: tc})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "song.mp3")})
	job := f.waitTerminal(t, jobID)

	require.Equal(t, model.JobStatusCompleted, job.Status, "error: %v", job.Error)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "Dance generation completed!", job.Message)
	require.NotNil(t, job.Result)
	require.NotNil(t, job.Result.VideoPath)
	require.NotNil(t, job.Result.MotionPath)
	assert.Nil(t, job.Result.ExportPath)
	assert.Nil(t, job.Error)
	assert.Contains(t, *job.Result.VideoPath, model.ShortID(jobID))
	assert.Equal(t, int32(1), tc.calls.Load())
	assert.Equal(t, model.DefaultDanceStyle, job.Params.Style)

	history := f.sink.history(jobID)
	assertHistory(t, history)
	assert.Contains(t, messages(history), "Converting audio format...")

	_, err := os.Stat(filepath.Join(f.store.Dirs().Work, jobID))
	assert.True(t, os.IsNotExist(err), "work dir should be removed")
	assert.NoError(t, f.disp.runErr(jobID))
}

func TestGenerate_WavSkipsConversion(t *testing.T) {
	tc := &copyTranscoder{}
	f := newFixture(t, fixtureOptions{transcoder: tc})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "song.WAV")})
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(0), tc.calls.Load())
	assert.Equal(t, []string{
		"Generation queued...",
		"Starting dance generation...",
		"Extracting audio features...",
		"Loading AI model and generating dance...",
		"Finalizing dance video...",
		"Dance generation completed!",
	}, messages(f.sink.history(jobID)))
}

func TestGenerate_UnknownUpload(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	before := f.reg.Len()

	_, err := f.svc.Start(context.Background(), &model.GenerateRequest{UploadID: "8c6f2f4e-59f5-4a43-9a0a-6f0f3f0f3f0f"})
	assert.ErrorIs(t, err, ErrUploadNotFound)
	assert.Equal(t, before, f.reg.Len())
}

func TestGenerate_DispatchFailureDropsJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	uploadID := f.upload(t, "a.wav")
	f.svc.dispatcher = failingDispatcher{}

	_, err := f.svc.Start(context.Background(), &model.GenerateRequest{UploadID: uploadID})
	require.Error(t, err)
	assert.Equal(t, 0, f.reg.Len())
}

func TestGenerate_TranscoderMissing(t *testing.T) {
	ffmpeg := client.NewFFmpeg(&config.TranscoderConfig{FFmpegPath: "ffmpeg-not-installed", SampleRate: 44100, Channels: 2})
	f := newFixture(t, fixtureOptions{transcoder: ffmpeg})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "song.mp3")})
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Message, "conversion failed")
	require.NotNil(t, job.Error)
	assert.True(t, strings.HasPrefix(*job.Error, "conversion failed: "), *job.Error)
	assert.Nil(t, job.Result)
	assert.Less(t, job.Progress, 100)
	assert.ErrorIs(t, f.disp.runErr(jobID), client.ErrConversionFailed)
	assertHistory(t, f.sink.history(jobID))

	health := f.svc.Health(context.Background())
	assert.False(t, health.Services["transcoder"])
}

func TestGenerate_EmptyFeaturesFailure(t *testing.T) {
	const cause = "Empty condition tensor: no features could be extracted from the audio"
	var sliceDir string
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		sliceDir = req.SliceDir
		if err := os.WriteFile(filepath.Join(req.SliceDir, "slice_0.wav"), []byte("x"), 0o644); err != nil {
			return nil, err
		}
		return nil, errors.New(cause)
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "quiet.mp3")})
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, cause, *job.Error)
	assert.Equal(t, "Error: "+cause, job.Message)
	assert.Nil(t, job.Result)

	require.NotEmpty(t, sliceDir)
	_, err := os.Stat(sliceDir)
	assert.True(t, os.IsNotExist(err), "slicing dir should be removed")
	_, err = os.Stat(filepath.Join(f.store.Dirs().Work, jobID))
	assert.True(t, os.IsNotExist(err), "work dir should be removed")
	assertHistory(t, f.sink.history(jobID))
}

func TestGenerate_PanicIsRecorded(t *testing.T) {
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		panic("model exploded")
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "panic: model exploded", *job.Error)

	// other jobs keep working
	f.orch.invoker = client.NewInvoker(client.NewMockBackend(0), "", 0)
	next := f.waitTerminal(t, f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "b.wav")}))
	assert.Equal(t, model.JobStatusCompleted, next.Status)
}

func TestGenerate_MissingArtifactsAreNonFatal(t *testing.T) {
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		return &client.MotionResult{}, nil
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)

	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.Result.VideoPath)
	assert.Nil(t, job.Result.MotionPath)

	_, err := f.svc.Artifact(jobID, model.ArtifactVideo)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestGenerate_FallsBackToReportedPaths(t *testing.T) {
	elsewhere := t.TempDir()
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		video := filepath.Join(elsewhere, "render.mp4")
		if err := os.WriteFile(video, []byte("v"), 0o644); err != nil {
			return nil, err
		}
		return &client.MotionResult{VideoPath: video, MotionPath: filepath.Join(elsewhere, "gone.pkl")}, nil
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)

	require.NotNil(t, job.Result.VideoPath)
	assert.Equal(t, filepath.Join(elsewhere, "render.mp4"), *job.Result.VideoPath)
	assert.Equal(t, "render.mp4", *job.Result.VideoFilename)
	assert.Nil(t, job.Result.MotionPath)
}

func TestGenerate_FirstLexicalMatchWins(t *testing.T) {
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		short := model.ShortID(req.JobID)
		for _, name := range []string{"b_" + short + ".mp4", "a_" + short + ".mp4"} {
			if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("v"), 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)

	require.NotNil(t, job.Result.VideoPath)
	assert.Equal(t, "a_"+model.ShortID(jobID)+".mp4", filepath.Base(*job.Result.VideoPath))
}

func TestGenerate_EstimatorAdvancesDuringModelCall(t *testing.T) {
	var reg *registry.Registry
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			job, err := reg.Get(req.JobID)
			if err != nil {
				return nil, err
			}
			if job.Progress >= 80 {
				return client.NewMockBackend(0).Generate(ctx, req)
			}
			time.Sleep(2 * time.Millisecond)
		}
		return nil, fmt.Errorf("estimator never reached 80")
	})
	f := newFixture(t, fixtureOptions{backend: backend, estimate: 30 * time.Millisecond})
	reg = f.reg

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)
	require.Equal(t, model.JobStatusCompleted, job.Status, "error: %v", job.Error)

	history := f.sink.history(jobID)
	assertHistory(t, history)
	for _, j := range history {
		if j.Progress > 80 && j.Progress < 85 {
			t.Fatalf("estimated progress escaped its range: %d", j.Progress)
		}
	}
}

func TestGenerate_Export(t *testing.T) {
	yes := true

	t.Run("exported when requested and enabled", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{exporter: &fakeExporter{}, exportEnabled: true})
		jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav"), GenerateExport: &yes})
		job := f.waitTerminal(t, jobID)

		require.NotNil(t, job.Result.ExportPath)
		assert.FileExists(t, *job.Result.ExportPath)
		assert.Contains(t, messages(f.sink.history(jobID)), "Exporting animation...")

		path, err := f.svc.Artifact(jobID, model.ArtifactExport)
		require.NoError(t, err)
		assert.Equal(t, *job.Result.ExportPath, path)
	})

	t.Run("not requested", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{exporter: &fakeExporter{}, exportEnabled: true})
		job := f.waitTerminal(t, f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")}))
		assert.Nil(t, job.Result.ExportPath)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{exporter: &fakeExporter{}})
		job := f.waitTerminal(t, f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav"), GenerateExport: &yes}))
		assert.Nil(t, job.Result.ExportPath)
	})

	t.Run("failure is non-fatal", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{exporter: &fakeExporter{err: errors.New("blender crashed")}, exportEnabled: true})
		job := f.waitTerminal(t, f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav"), GenerateExport: &yes}))
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		assert.Nil(t, job.Result.ExportPath)
		assert.NotNil(t, job.Result.VideoPath)
	})
}

func TestGenerate_MirrorAndCleanup(t *testing.T) {
	mirror := &fakeMirror{}
	f := newFixture(t, fixtureOptions{mirror: mirror})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)

	require.NotNil(t, job.Result.VideoURL)
	assert.Equal(t, "https://cdn.test/dances/"+jobID+"/"+*job.Result.VideoFilename, *job.Result.VideoURL)
	assert.NotNil(t, job.Result.MotionURL)
	assert.Len(t, mirror.uploads, 2)
	assert.Contains(t, messages(f.sink.history(jobID)), "Publishing artifacts...")

	require.NoError(t, f.svc.Cleanup(context.Background(), jobID))
	assert.ElementsMatch(t, mirror.uploads, mirror.deletes)
}

func TestCleanup_DuringMirrorRemovesMirroredObjects(t *testing.T) {
	mirror := &fakeMirror{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, fixtureOptions{mirror: mirror})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	<-mirror.entered
	require.NoError(t, f.svc.Cleanup(context.Background(), jobID))
	close(mirror.release)
	f.disp.wg.Wait()

	assert.ErrorIs(t, f.disp.runErr(jobID), registry.ErrJobNotFound)
	uploads, deletes := mirror.recorded()
	assert.Len(t, uploads, 2)
	assert.ElementsMatch(t, uploads, deletes)

	matches, err := filepath.Glob(filepath.Join(f.store.Dirs().Outputs, "*"+model.ShortID(jobID)+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestArtifact_NotCompleted(t *testing.T) {
	release := make(chan struct{})
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		<-release
		return client.NewMockBackend(0).Generate(ctx, req)
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	_, err := f.svc.Artifact(jobID, model.ArtifactVideo)
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	close(release)
	f.waitTerminal(t, jobID)

	path, err := f.svc.Artifact(jobID, model.ArtifactVideo)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = f.svc.Artifact("missing", model.ArtifactVideo)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	assert.NoError(t, f.svc.Cleanup(context.Background(), "never-existed"))

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	job := f.waitTerminal(t, jobID)
	video := *job.Result.VideoPath
	motion := *job.Result.MotionPath

	require.NoError(t, f.svc.Cleanup(context.Background(), jobID))
	_, err := f.svc.Status(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoFileExists(t, video)
	assert.NoFileExists(t, motion)

	// second cleanup is a no-op
	assert.NoError(t, f.svc.Cleanup(context.Background(), jobID))
}

func TestCleanup_WhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var video string
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		close(started)
		<-release
		res, err := client.NewMockBackend(0).Generate(ctx, req)
		if res != nil {
			video = res.VideoPath
		}
		return res, err
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	<-started
	require.NoError(t, f.svc.Cleanup(context.Background(), jobID))
	close(release)
	f.disp.wg.Wait()

	assert.ErrorIs(t, f.disp.runErr(jobID), registry.ErrJobNotFound)
	_, err := f.svc.Status(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	require.NotEmpty(t, video)
	assert.NoFileExists(t, video)
}

func TestRun_SingleOrchestrationPerJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	uploadID := f.upload(t, "a.wav")
	job := f.reg.Create(uploadID, model.GenerateParams{FeatureType: model.FeatureTypeJukebox})

	var wg sync.WaitGroup
	var claimed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.orch.Run(context.Background(), job.ID)
			if !errors.Is(err, registry.ErrAlreadyClaimed) {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	got, err := f.reg.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestStatus_ConcurrentPollsSeeConsistentSnapshots(t *testing.T) {
	f := newFixture(t, fixtureOptions{estimate: 20 * time.Millisecond})
	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.mp3")})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				st, err := f.svc.Status(jobID)
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, st.Progress, last)
				last = st.Progress
				if st.Status.IsTerminal() {
					assert.True(t, (st.Result != nil) != (st.Error != nil))
					return
				}
				assert.Nil(t, st.Result)
				assert.Nil(t, st.Error)
			}
		}()
	}
	wg.Wait()
	f.waitTerminal(t, jobID)
}

func TestHealth(t *testing.T) {
	release := make(chan struct{})
	backend := funcBackend(func(ctx context.Context, req *client.MotionRequest) (*client.MotionResult, error) {
		<-release
		return &client.MotionResult{}, nil
	})
	f := newFixture(t, fixtureOptions{backend: backend})

	jobID := f.start(t, &model.GenerateRequest{UploadID: f.upload(t, "a.wav")})
	h := f.svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.ActiveJobs)
	assert.Equal(t, 1, h.TotalJobs)
	assert.True(t, h.Services["transcoder"])

	close(release)
	f.waitTerminal(t, jobID)
	h = f.svc.Health(context.Background())
	assert.Equal(t, 0, h.ActiveJobs)
	assert.Equal(t, 1, h.TotalJobs)
}

func TestUploadService(t *testing.T) {
	store, err := storage.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	svc := NewUploadService(store, 10)

	resp, err := svc.Upload("Track.MP3", 4, strings.NewReader("ID3!"))
	require.NoError(t, err)
	assert.Equal(t, "Track.MP3", resp.Filename)
	_, err = store.FindUpload(resp.UploadID)
	require.NoError(t, err)

	_, err = svc.Upload("notes.txt", 4, strings.NewReader("text"))
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, err = svc.Upload("noext", 4, strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, err = svc.Upload("big.wav", 11, strings.NewReader("0123456789a"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	require.NoError(t, svc.Delete(resp.UploadID))
	_, err = store.FindUpload(resp.UploadID)
	assert.ErrorIs(t, err, ErrUploadNotFound)
}
