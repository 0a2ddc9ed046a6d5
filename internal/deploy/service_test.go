package deploy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"castdeploy/internal/artifact"
	"castdeploy/internal/config"
	"castdeploy/internal/contentsync"
	"castdeploy/internal/deploy"
	"castdeploy/internal/destination"
	"castdeploy/internal/ledger"
	"castdeploy/internal/logging"
	"castdeploy/internal/remote"
	"castdeploy/internal/testsupport"
	"castdeploy/internal/vault"
)

type fakeCatalog struct {
	mu          sync.Mutex
	feedErr     error
	artwork     string
	episodes    []artifact.Episode
	bases       []string
	feedAt      []time.Time
	publishedAt []time.Time
}

func (c *fakeCatalog) GenerateFeed(_ context.Context, podcastID, base string, now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bases = append(c.bases, base)
	c.feedAt = append(c.feedAt, now)
	if c.feedErr != nil {
		return nil, c.feedErr
	}
	return []byte(fmt.Sprintf("<rss><channel><title>%s</title><link>%s/feed.xml</link></channel></rss>", podcastID, base)), nil
}

func (c *fakeCatalog) PublishedEpisodes(_ context.Context, _ string, now time.Time) ([]artifact.Episode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishedAt = append(c.publishedAt, now)
	return append([]artifact.Episode(nil), c.episodes...), nil
}

func (c *fakeCatalog) PodcastArtwork(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artwork, nil
}

// behavior scripts the fake adapter per destination URL.
type behavior struct {
	openErr error
	panics  bool
	onOpen  func()
}

type fakeAdapter struct {
	mu        sync.Mutex
	stores    map[string]*testsupport.MemStore
	behaviors map[string]behavior
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{stores: make(map[string]*testsupport.MemStore), behaviors: make(map[string]behavior)}
}

func (f *fakeAdapter) Mode() destination.Mode { return destination.ModeWebDAV }

func (f *fakeAdapter) Open(_ context.Context, target remote.Target) (remote.Session, error) {
	url := target.Config.(*destination.WebDAVConfig).URL
	f.mu.Lock()
	b := f.behaviors[url]
	store := f.storeLocked(url)
	f.mu.Unlock()

	if b.onOpen != nil {
		b.onOpen()
	}
	if b.panics {
		panic("adapter exploded")
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	return nopCloser{store}, nil
}

func (f *fakeAdapter) store(url string) *testsupport.MemStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeLocked(url)
}

func (f *fakeAdapter) storeLocked(url string) *testsupport.MemStore {
	s, ok := f.stores[url]
	if !ok {
		s = testsupport.NewMemStore(false)
		f.stores[url] = s
	}
	return s
}

type nopCloser struct {
	*testsupport.MemStore
}

func (nopCloser) Close() error { return nil }

type env struct {
	cfg      *config.Config
	vault    *vault.Vault
	manager  *destination.Manager
	runs     *ledger.Ledger
	catalog  *fakeCatalog
	feeds    *deploy.FeedCache
	locks    *deploy.Locker
	service  *deploy.Service
	adapter  *fakeAdapter
	registry *remote.Registry
}

func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newEnv(t *testing.T, opts ...deploy.Option) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	v := testsupport.MustVault(t, cfg)
	logger := logging.NewNop()

	adapter := newFakeAdapter()
	registry := remote.NewRegistry(logger, adapter, remote.NewSFTPAdapter(remote.Options{ConnectTimeout: 5 * time.Second, IOTimeout: 5 * time.Second}, logger))

	e := &env{
		cfg:      cfg,
		vault:    v,
		manager:  destination.NewManager(db, v, logger, destination.WithClock(stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))),
		runs:     ledger.New(db, logger),
		catalog:  &fakeCatalog{},
		feeds:    deploy.NewFeedCache(cfg.FeedCacheDir()),
		locks:    deploy.NewLocker(cfg.LockDir(), 200*time.Millisecond),
		adapter:  adapter,
		registry: registry,
	}
	service, err := deploy.NewService(deploy.Dependencies{
		Destinations: e.manager,
		Runs:         e.runs,
		Remote:       registry,
		Catalog:      e.catalog,
		Feeds:        e.feeds,
		Locks:        e.locks,
		Logger:       logger,
	}, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	e.service = service
	return e
}

func (e *env) addWebDAV(t *testing.T, podcastID, url, publicBase string) destination.Destination {
	t.Helper()
	d, err := e.manager.Create(context.Background(), destination.Spec{
		PodcastID:     podcastID,
		PublicBaseURL: publicBase,
		Config:        &destination.WebDAVConfig{URL: url},
	})
	if err != nil {
		t.Fatalf("create destination: %v", err)
	}
	return d
}

func TestDeployAllIsolatesDestinationFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addWebDAV(t, "pod", "https://one.example.com/", "")
	broken := e.addWebDAV(t, "pod", "https://two.example.com/", "")
	e.addWebDAV(t, "pod", "https://three.example.com/", "")
	e.adapter.behaviors["https://two.example.com/"] = behavior{openErr: errors.New("connection refused")}

	results, err := e.service.DeployAll(ctx, "pod")
	if err != nil {
		t.Fatalf("DeployAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []ledger.Status{ledger.StatusSuccess, ledger.StatusFailed, ledger.StatusSuccess}
	for i, r := range results {
		if r.Run.Status != want[i] {
			t.Fatalf("result %d status = %s, want %s (log %q)", i, r.Run.Status, want[i], r.Run.Log)
		}
		if r.Run.FinishedAt == nil {
			t.Fatalf("result %d not finished", i)
		}
	}
	if results[1].DestinationID != broken.ID {
		t.Fatalf("results out of creation order")
	}
	if got := results[1].Run.Log; got != "uploaded 0, skipped 0, failed 1\n- connect: connection refused" {
		t.Fatalf("unexpected failure log %q", got)
	}
	if got := results[0].Run.Log; got != "uploaded 1, skipped 0" {
		t.Fatalf("unexpected success log %q", got)
	}

	running, err := e.runs.List(ctx, ledger.Filter{Status: ledger.StatusRunning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(running) != 0 {
		t.Fatalf("runs left running: %+v", running)
	}
}

func TestDeployAllContainsDecryptFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	otherKey, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherVault, err := vault.New(otherKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	foreign := destination.NewManager(testsupport.MustOpenDB(t, e.cfg), otherVault, logging.NewNop(),
		destination.WithClock(func() time.Time { return time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC) }))
	sealedElsewhere, err := foreign.Create(ctx, destination.Spec{PodcastID: "pod", Config: &destination.WebDAVConfig{URL: "https://foreign.example.com/"}})
	if err != nil {
		t.Fatalf("create foreign destination: %v", err)
	}
	healthy := e.addWebDAV(t, "pod", "https://ok.example.com/", "")

	results, err := e.service.DeployAll(ctx, "pod")
	if err != nil {
		t.Fatalf("DeployAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.DestinationID != sealedElsewhere.ID || first.Run.Status != ledger.StatusFailed {
		t.Fatalf("expected failed run for undecryptable destination, got %+v", first.Run)
	}
	if !strings.HasPrefix(first.Run.Log, deploy.DecryptFailurePrefix) {
		t.Fatalf("log %q lacks decrypt prefix", first.Run.Log)
	}
	if strings.Contains(first.Run.Log, "foreign.example.com") {
		t.Fatal("failure log leaks config contents")
	}
	if results[1].DestinationID != healthy.ID || results[1].Run.Status != ledger.StatusSuccess {
		t.Fatalf("healthy destination did not deploy: %+v", results[1].Run)
	}

	runs, err := e.runs.List(ctx, ledger.Filter{DestinationID: sealedElsewhere.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != ledger.StatusFailed {
		t.Fatalf("expected exactly one failed run, got %+v", runs)
	}
}

// failLedgerWrites makes the run ledger reject statements on deploy_runs
// for destinationID through a trigger on a second handle.
func failLedgerWrites(t *testing.T, e *env, event, destinationID string) {
	t.Helper()
	row := "NEW"
	if event == "UPDATE" {
		row = "OLD"
	}
	db := testsupport.MustOpenDB(t, e.cfg)
	stmt := fmt.Sprintf(`CREATE TRIGGER fail_%s_%d BEFORE %s ON deploy_runs WHEN %s.destination_id = '%s'
BEGIN SELECT RAISE(ABORT, 'ledger unavailable'); END`, strings.ToLower(event), time.Now().UnixNano(), event, row, destinationID)
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func TestDeployAllContinuesPastLedgerWriteFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	notStarted := e.addWebDAV(t, "pod", "https://one.example.com/", "")
	notFinished := e.addWebDAV(t, "pod", "https://two.example.com/", "")
	healthy := e.addWebDAV(t, "pod", "https://three.example.com/", "")
	failLedgerWrites(t, e, "INSERT", notStarted.ID)
	failLedgerWrites(t, e, "UPDATE", notFinished.ID)

	results, err := e.service.DeployAll(ctx, "pod")
	if err != nil {
		t.Fatalf("DeployAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	first := results[0]
	if first.DestinationID != notStarted.ID || first.Succeeded() || first.Run.ID != "" {
		t.Fatalf("unexpected result for unstarted run: %+v", first)
	}
	if !strings.Contains(first.Run.Log, "record run start") || !strings.Contains(first.Run.Log, "ledger unavailable") {
		t.Fatalf("log %q lacks ledger failure", first.Run.Log)
	}

	second := results[1]
	if second.DestinationID != notFinished.ID || second.Succeeded() || second.Run.ID == "" {
		t.Fatalf("unexpected result for unfinished run: %+v", second)
	}
	if second.Result.Uploaded != 1 || !strings.Contains(second.Run.Log, "record run finish") {
		t.Fatalf("transfer outcome lost: %+v", second)
	}
	stored, err := e.runs.Get(ctx, second.Run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != ledger.StatusRunning {
		t.Fatalf("unfinished run should stay running for reconcile, got %s", stored.Status)
	}

	if results[2].DestinationID != healthy.ID || !results[2].Succeeded() {
		t.Fatalf("healthy destination did not deploy: %+v", results[2].Run)
	}
}

func TestDeployUsesOneInstantForFeedAndEpisodes(t *testing.T) {
	e := newEnv(t, deploy.WithClock(stepClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))))
	d := e.addWebDAV(t, "pod", "https://one.example.com/", "")

	if _, err := e.service.DeployOne(context.Background(), d.ID); err != nil {
		t.Fatalf("DeployOne: %v", err)
	}
	if len(e.catalog.feedAt) != 1 || len(e.catalog.publishedAt) != 1 {
		t.Fatalf("expected one catalog read each, got %d feed and %d episode", len(e.catalog.feedAt), len(e.catalog.publishedAt))
	}
	if !e.catalog.feedAt[0].Equal(e.catalog.publishedAt[0]) {
		t.Fatalf("feed selected at %s, episodes at %s", e.catalog.feedAt[0], e.catalog.publishedAt[0])
	}
}

func TestDeployOneRecoversAdapterPanic(t *testing.T) {
	e := newEnv(t)
	d := e.addWebDAV(t, "pod", "https://panic.example.com/", "")
	e.adapter.behaviors["https://panic.example.com/"] = behavior{panics: true}

	result, err := e.service.DeployOne(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("DeployOne: %v", err)
	}
	if result.Run.Status != ledger.StatusFailed {
		t.Fatalf("status = %s", result.Run.Status)
	}
	if !strings.Contains(result.Run.Log, "- panic: adapter exploded") {
		t.Fatalf("log %q lacks panic", result.Run.Log)
	}
}

func TestDeployOneUsesDestinationBaseURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.addWebDAV(t, "pod", "https://a.example.com/", "https://cdn-a.example.com/pod/")
	b := e.addWebDAV(t, "pod", "https://b.example.com/", "https://cdn-b.example.com")

	for _, d := range []destination.Destination{a, b} {
		if _, err := e.service.DeployOne(ctx, d.ID); err != nil {
			t.Fatalf("DeployOne: %v", err)
		}
	}

	feedA, _ := e.adapter.store("https://a.example.com/").Object(artifact.FeedPath)
	if !strings.Contains(string(feedA), "https://cdn-a.example.com/pod/feed.xml") {
		t.Fatalf("destination a feed has wrong links: %s", feedA)
	}
	feedB, _ := e.adapter.store("https://b.example.com/").Object(artifact.FeedPath)
	if !strings.Contains(string(feedB), "https://cdn-b.example.com/feed.xml") {
		t.Fatalf("destination b feed has wrong links: %s", feedB)
	}

	cachedA, err := e.feeds.Read("pod", a.ID)
	if err != nil || string(cachedA) != string(feedA) {
		t.Fatalf("feed cache for a = %q, %v", cachedA, err)
	}
	cachedB, err := e.feeds.Read("pod", b.ID)
	if err != nil || string(cachedB) != string(feedB) {
		t.Fatalf("feed cache for b = %q, %v", cachedB, err)
	}
}

func TestDeployOneRecordsCatalogFailure(t *testing.T) {
	e := newEnv(t)
	d := e.addWebDAV(t, "pod", "https://dav.example.com/", "")
	e.catalog.feedErr = errors.New("template missing")

	result, err := e.service.DeployOne(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("DeployOne: %v", err)
	}
	if result.Run.Status != ledger.StatusFailed || !strings.Contains(result.Run.Log, "- generate feed: template missing") {
		t.Fatalf("unexpected run %+v", result.Run)
	}
	if len(e.adapter.store("https://dav.example.com/").Paths()) != 0 {
		t.Fatal("nothing should be uploaded without a feed")
	}
}

func TestDeployOneFinishesRunAfterCancellation(t *testing.T) {
	e := newEnv(t)
	d := e.addWebDAV(t, "pod", "https://slow.example.com/", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.adapter.behaviors["https://slow.example.com/"] = behavior{onOpen: cancel}

	result, err := e.service.DeployOne(ctx, d.ID)
	if err != nil {
		t.Fatalf("DeployOne: %v", err)
	}
	if result.Run.Status != ledger.StatusFailed {
		t.Fatalf("status = %s", result.Run.Status)
	}
	if !strings.Contains(result.Run.Log, "deploy interrupted") {
		t.Fatalf("log %q lacks interruption", result.Run.Log)
	}
}

func TestDeployOneUnknownDestination(t *testing.T) {
	e := newEnv(t)
	if _, err := e.service.DeployOne(context.Background(), "missing"); !errors.Is(err, destination.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeployRefusesLockedPodcast(t *testing.T) {
	e := newEnv(t)
	d := e.addWebDAV(t, "pod", "https://dav.example.com/", "")

	release, err := deploy.NewLocker(e.cfg.LockDir(), 0).Acquire(context.Background(), "pod")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := e.service.DeployOne(context.Background(), d.ID); !errors.Is(err, deploy.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := e.service.DeployAll(context.Background(), "pod"); !errors.Is(err, deploy.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	runs, _ := e.runs.List(context.Background(), ledger.Filter{})
	if len(runs) != 0 {
		t.Fatalf("locked deploy created runs: %+v", runs)
	}
}

func TestTestDestinationReportsConfigFailure(t *testing.T) {
	e := newEnv(t)
	d := e.addWebDAV(t, "pod", "https://dav.example.com/", "")

	result, err := e.service.TestDestination(context.Background(), d.ID)
	if err != nil || !result.OK {
		t.Fatalf("TestDestination = %+v, %v", result, err)
	}

	e.adapter.behaviors["https://dav.example.com/"] = behavior{openErr: errors.New("401 unauthorized")}
	result, err = e.service.TestDestination(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("TestDestination: %v", err)
	}
	if result.OK || result.Error != "connect: 401 unauthorized" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDeploySFTPScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	srv := testsupport.StartSFTPServer(t, "deploy", "pw")
	remoteRoot := filepath.Join(t.TempDir(), "www")
	d, err := e.manager.Create(ctx, destination.Spec{
		PodcastID: "pod",
		Config: &destination.SFTPConfig{
			Host:     srv.Host,
			Port:     srv.Port,
			Username: "deploy",
			Password: "pw",
			HostKey:  srv.HostKey,
			BasePath: remoteRoot,
		},
	})
	if err != nil {
		t.Fatalf("create sftp destination: %v", err)
	}

	audio := filepath.Join(testsupport.BaseDir(e.cfg), "media", "ep1.MP3")
	testsupport.WriteSizedFile(t, audio, 4096, 'a')
	e.catalog.episodes = []artifact.Episode{{ID: "ep1", AudioPath: audio}}

	expect := func(label string, uploaded, skipped int) deploy.RunResult {
		t.Helper()
		result, err := e.service.DeployOne(ctx, d.ID)
		if err != nil {
			t.Fatalf("%s: DeployOne: %v", label, err)
		}
		if result.Result.Uploaded != uploaded || result.Result.Skipped != skipped || result.Run.Status != ledger.StatusSuccess {
			t.Fatalf("%s: got uploaded=%d skipped=%d status=%s log=%q", label, result.Result.Uploaded, result.Result.Skipped, result.Run.Status, result.Run.Log)
		}
		return result
	}

	first := expect("first", 2, 0)
	if first.Run.Log != "uploaded 2, skipped 0" {
		t.Fatalf("unexpected log %q", first.Run.Log)
	}
	sidecar, err := os.ReadFile(filepath.Join(remoteRoot, "episodes", "ep1.mp3.md5"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	data, _ := os.ReadFile(audio)
	if string(sidecar) != contentsync.Hash(data) {
		t.Fatal("sidecar does not match audio hash")
	}

	expect("second", 0, 2)

	testsupport.WriteSizedFile(t, audio, 4096, 'b')
	expect("third", 1, 1)
}

func TestFormatLog(t *testing.T) {
	cases := []struct {
		result remote.DeployResult
		want   string
	}{
		{remote.DeployResult{Uploaded: 3, Skipped: 1, Errors: []string{}}, "uploaded 3, skipped 1"},
		{remote.DeployResult{Uploaded: 1, Errors: []string{"a: boom", "b: bust"}}, "uploaded 1, skipped 0, failed 2\n- a: boom\n- b: bust"},
	}
	for _, tc := range cases {
		if got := deploy.FormatLog(tc.result); got != tc.want {
			t.Fatalf("FormatLog = %q, want %q", got, tc.want)
		}
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := deploy.NewService(deploy.Dependencies{})
	if err == nil || !strings.Contains(err.Error(), "destinations") {
		t.Fatalf("expected missing collaborator error, got %v", err)
	}
}
