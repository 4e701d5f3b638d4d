package entity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/scrollit/logikal-sync/pkg/sync/entity"
	"github.com/scrollit/logikal-sync/pkg/upstream"
)

func TestEntity(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Entity Syncer Suite")
}

type wireEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func newTestSession(server *httptest.Server) *upstream.Session {
	client := upstream.NewClient(server.URL, 1000, 5*time.Second, logrus.New())
	sess, err := client.Login(context.Background(), upstream.Credentials{Username: "u", Password: "p"})
	Expect(err).NotTo(HaveOccurred())
	return sess
}

var _ = Describe("DirectorySyncer", func() {
	var (
		mux    *http.ServeMux
		server *httptest.Server
		dirs   []wireEntry
	)

	BeforeEach(func() {
		dirs = []wireEntry{
			{ID: "11111111-1111-1111-1111-111111111111", Name: "Alpha", Path: "/Alpha"},
		}
		mux = http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expires_at": time.Now().Add(time.Hour)})
		})
		mux.HandleFunc("/directories", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(dirs)
		})
		server = httptest.NewServer(mux)
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates a new local directory for an unseen upstream entry", func() {
		sess := newTestSession(server)
		ms := newMemStore()
		syncer := entity.NewDirectorySyncer(ms, time.Hour)

		out, err := syncer.Sync(context.Background(), sess, 0, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.ParentDeleted).To(BeFalse())
		Expect(out.Created).To(Equal(1))
		Expect(out.Updated).To(Equal(0))
		Expect(out.Deleted).To(Equal(0))
		Expect(ms.directories).To(HaveLen(1))
	})

	It("tombstones a removed upstream directory on the next sweep", func() {
		sess := newTestSession(server)
		ms := newMemStore()
		syncer := entity.NewDirectorySyncer(ms, time.Hour)

		_, err := syncer.Sync(context.Background(), sess, 0, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(ms.directories).To(HaveLen(1))

		dirs = nil // upstream now reports no children
		out, err := syncer.Sync(context.Background(), sess, 0, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Deleted).To(Equal(1))
		Expect(ms.directories).To(BeEmpty())
	})

	It("leaves a fresh local row unchanged and only bumps local_synced_at", func() {
		sess := newTestSession(server)
		ms := newMemStore()
		syncer := entity.NewDirectorySyncer(ms, time.Hour)

		first := time.Now().Add(-time.Minute)
		_, err := syncer.Sync(context.Background(), sess, 0, first)
		Expect(err).NotTo(HaveOccurred())

		second := time.Now()
		out, err := syncer.Sync(context.Background(), sess, 0, second)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Created).To(Equal(0))
		Expect(out.Updated).To(Equal(0))
		Expect(out.Unchanged).To(Equal(1))
	})
})

var _ = Describe("ElevationSyncer", func() {
	It("fetches and stages the parts blob for a newly created elevation", func() {
		blobBytes := []byte("fake-sqlite-file-bytes")
		elevID := "22222222-2222-2222-2222-222222222222"

		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expires_at": time.Now().Add(time.Hour)})
		})
		mux.HandleFunc("/session/select-project/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		})
		mux.HandleFunc("/session/select-phase/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		})
		mux.HandleFunc("/projects/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/elevations") {
				json.NewEncoder(w).Encode([]wireEntry{{ID: elevID, Name: "East Wall"}})
				return
			}
			json.NewEncoder(w).Encode([]wireEntry{})
		})
		mux.HandleFunc("/elevations/"+elevID+"/parts-blob", func(w http.ResponseWriter, r *http.Request) {
			w.Write(blobBytes)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		sess := newTestSession(server)
		Expect(sess.SelectProject(context.Background(), "proj")).To(Succeed())
		Expect(sess.SelectPhase(context.Background(), "phase")).To(Succeed())

		blobRoot, err := os.MkdirTemp("", "logikal-sync-blobs-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(blobRoot)

		ms := newMemStore()
		syncer := entity.NewElevationSyncer(ms, time.Hour, blobRoot, blobRoot)

		out, err := syncer.Sync(context.Background(), sess, 1, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Errors).To(BeEmpty())
		Expect(out.Created).To(Equal(1))
		Expect(ms.elevations).To(HaveLen(1))

		for _, e := range ms.elevations {
			Expect(e.PartsBlobPath).NotTo(BeNil())
			staged, readErr := os.ReadFile(*e.PartsBlobPath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(staged).To(Equal(blobBytes))
			Expect(e.PartsBlobHash).NotTo(BeNil())
		}
	})

	It("stages a thumbnail for a newly created elevation when upstream has one", func() {
		imgBytes := []byte("fake-png-bytes")
		elevID := "33333333-3333-3333-3333-333333333333"

		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expires_at": time.Now().Add(time.Hour)})
		})
		mux.HandleFunc("/session/select-project/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		})
		mux.HandleFunc("/session/select-phase/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		})
		mux.HandleFunc("/projects/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/elevations") {
				json.NewEncoder(w).Encode([]wireEntry{{ID: elevID, Name: "South Wall"}})
				return
			}
			json.NewEncoder(w).Encode([]wireEntry{})
		})
		mux.HandleFunc("/elevations/"+elevID+"/parts-blob", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("blob-bytes"))
		})
		mux.HandleFunc("/elevations/"+elevID+"/thumbnail", func(w http.ResponseWriter, r *http.Request) {
			w.Write(imgBytes)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		sess := newTestSession(server)
		Expect(sess.SelectProject(context.Background(), "proj")).To(Succeed())
		Expect(sess.SelectPhase(context.Background(), "phase")).To(Succeed())

		root, err := os.MkdirTemp("", "logikal-sync-images-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(root)

		ms := newMemStore()
		syncer := entity.NewElevationSyncer(ms, time.Hour, root, root)

		out, err := syncer.Sync(context.Background(), sess, 1, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Errors).To(BeEmpty())

		for _, e := range ms.elevations {
			Expect(e.ImagePath).NotTo(BeNil())
			staged, readErr := os.ReadFile(*e.ImagePath)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(staged).To(Equal(imgBytes))
			Expect(*e.ImagePath).To(ContainSubstring("South_Wall"))
		}
	})
})
