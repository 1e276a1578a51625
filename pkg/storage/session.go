package storage

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"camhal/pkg/types"
)

type Session struct {
	Name string `json:"name"`
	Info string `json:"info"`
	// ms
	Interval int64 `json:"interval"`
	// flattened camera parameters
	Parameters string `json:"parameters"`

	CreatedAt time.Time `json:"createdAt"`

	rootDir string
	lock    sync.Mutex
}

type ImagesInfo struct {
	MaxNumber   int    `json:"maxNumber"`
	LatestImage string `json:"latestImage"`
	TotalBytes  uint64 `json:"totalBytes"`

	UpdateAt time.Time `json:"updateAt"`
}

func (p *Session) setRootDir(dir string) {
	p.rootDir = path.Join(dir, p.Name)
}

func (p *Session) init() error {
	err := mkdirAll(
		p.getImageDirPath(),
		p.getVideoDirPath(),
	)
	if err != nil {
		return err
	}

	return p.dumpImageInfo(&ImagesInfo{})
}

func (p *Session) IntervalDuration() time.Duration {
	return time.Duration(p.Interval) * time.Millisecond
}

// SaveImage stores one compressed picture and returns its name.
func (p *Session) SaveImage(image []byte) (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	info, err := p.loadImageInfo()
	if err != nil {
		return "", err
	}
	name := p.generateImageName(info.MaxNumber)
	if err = os.WriteFile(p.GetImagePath(name), image, DefaultFilePerm); err != nil {
		return "", err
	}

	info.MaxNumber++
	info.LatestImage = name
	info.TotalBytes += uint64(len(image))
	if err = p.dumpImageInfo(info); err != nil {
		return "", err
	}
	logger.Debugf("session %s: saved %s (%s)", p.Name, name, humanize.IBytes(uint64(len(image))))

	return name, nil
}

func (p *Session) ImagesInfo() (*ImagesInfo, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.loadImageInfo()
}

func (p *Session) LatestImageName() (string, error) {
	info, err := p.ImagesInfo()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (p *Session) LatestImage() ([]byte, error) {
	name, err := p.LatestImageName()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("session %s has no pictures", p.Name)
	}

	return p.GetImage(name)
}

func (p *Session) GetImage(name string) ([]byte, error) {
	if name != path.Base(name) {
		return nil, fmt.Errorf("invalid picture name %q", name)
	}
	file, err := os.ReadFile(p.GetImagePath(name))
	if err != nil {
		return nil, fmt.Errorf("picture not found, %w", err)
	}

	return file, nil
}

func (p *Session) ListImages() ([]types.File, error) {
	return listFiles(p.getImageDirPath(), DefaultImageExt)
}

func (p *Session) ListVideos() ([]types.File, error) {
	return listFiles(p.getVideoDirPath(), DefaultVideoExt)
}

// NewVideoPath returns a fresh path for a recording in this session.
func (p *Session) NewVideoPath() string {
	name := fmt.Sprintf("%s-%s%s", p.Name, time.Now().Format("20060102-150405"), DefaultVideoExt)
	return path.Join(p.getVideoDirPath(), name)
}

func (p *Session) Clear() error {
	return os.RemoveAll(p.rootDir)
}

// Usage describes how much the session holds on disk.
func (p *Session) Usage() (string, error) {
	info, err := p.ImagesInfo()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d pictures, %s", info.MaxNumber, humanize.IBytes(info.TotalBytes)), nil
}

func (p *Session) generateImageName(number int) string {
	return fmt.Sprintf("%s-%d%s", p.Name, number, DefaultImageExt)
}

func (p *Session) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(p.getImageInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (p *Session) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(p.getImageInfoPath(), data, DefaultFilePerm)
}

func (p *Session) GetImagePath(name string) string {
	return path.Join(p.getImageDirPath(), name)
}

func (p *Session) getImageInfoPath() string {
	return path.Join(p.rootDir, DefaultImagesDir, DefaultInfoFile)
}

func (p *Session) getImageDirPath() string {
	return path.Join(p.rootDir, DefaultImagesDir)
}

func (p *Session) getVideoDirPath() string {
	return path.Join(p.rootDir, DefaultVideosDir)
}

func listFiles(dir, ext string) ([]types.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var res []types.File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.IBytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}

	return res, nil
}
