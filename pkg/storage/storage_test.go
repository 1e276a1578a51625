package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSession(t *testing.T) {
	s, err := New(t.TempDir())
	checkErr(t, err)
	defer s.Close()

	p, err := s.NewSession("garden", "balcony", time.Minute, "zoom=0;effect=none")
	checkErr(t, err)
	if p.IntervalDuration() != time.Minute {
		t.Errorf("interval %s", p.IntervalDuration())
	}

	name, err := p.LatestImageName()
	checkErr(t, err)
	if name != "" {
		t.Errorf("latest image of a new session: %q", name)
	}

	first := []byte{0xff, 0xd8, 1, 0xff, 0xd9}
	second := []byte{0xff, 0xd8, 2, 2, 0xff, 0xd9}
	_, err = p.SaveImage(first)
	checkErr(t, err)
	name, err = p.SaveImage(second)
	checkErr(t, err)
	if name != "garden-1.jpg" {
		t.Errorf("second picture named %s", name)
	}

	latest, err := p.LatestImage()
	checkErr(t, err)
	if !bytes.Equal(latest, second) {
		t.Errorf("latest picture %v", latest)
	}
	images, err := p.ListImages()
	checkErr(t, err)
	if len(images) != 2 {
		t.Fatalf("listed %d pictures", len(images))
	}
	info, err := p.ImagesInfo()
	checkErr(t, err)
	if info.MaxNumber != 2 || info.TotalBytes != uint64(len(first)+len(second)) {
		t.Errorf("info %+v", info)
	}
	usage, err := p.Usage()
	checkErr(t, err)
	if !strings.HasPrefix(usage, "2 pictures") {
		t.Errorf("usage %q", usage)
	}

	if _, err = p.GetImage("../info.json"); err == nil {
		t.Error("read outside the session")
	}
}

func TestSessionsPersist(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	checkErr(t, err)

	_, err = s.NewSession("a", "", time.Second, "")
	checkErr(t, err)
	_, err = s.NewSession("b", "", time.Second, "")
	checkErr(t, err)
	if _, err = s.NewSession("a", "", time.Second, ""); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate session: %v", err)
	}
	if _, err = s.NewSession("../x", "", time.Second, ""); err == nil {
		t.Error("session name with a path accepted")
	}

	// reopening sees the same sessions
	s, err = New(dir)
	checkErr(t, err)
	list, err := s.ListSessions()
	checkErr(t, err)
	if len(list) != 2 {
		t.Fatalf("%d sessions", len(list))
	}

	b, err := s.GetSession("b")
	checkErr(t, err)
	b.Info = "updated"
	checkErr(t, s.UpdateSession(b))
	b, err = s.GetSession("b")
	checkErr(t, err)
	if b.Info != "updated" {
		t.Errorf("info %q", b.Info)
	}
	_, err = b.SaveImage([]byte{1})
	checkErr(t, err)

	checkErr(t, s.DeleteSession("b"))
	if _, err = s.GetSession("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session: %v", err)
	}
	if _, err = os.Stat(filepath.Join(dir, "b")); !os.IsNotExist(err) {
		t.Error("session directory left behind")
	}
	if err = s.DeleteSession("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestVideoPath(t *testing.T) {
	s, err := New(t.TempDir())
	checkErr(t, err)
	p, err := s.NewSession("rec", "", time.Second, "")
	checkErr(t, err)

	path := p.NewVideoPath()
	if filepath.Ext(path) != DefaultVideoExt {
		t.Errorf("video path %s", path)
	}
	checkErr(t, os.WriteFile(path, []byte("RIFF"), DefaultFilePerm))
	videos, err := p.ListVideos()
	checkErr(t, err)
	if len(videos) != 1 {
		t.Errorf("%d videos", len(videos))
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
