// Package dataset loads labeled 28x28 samples stored in the IDX format.
package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/knnipc/internal/wire"
)

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

var (
	ErrBadMagic      = errors.New("bad IDX magic number")
	ErrBadDimensions = errors.New("images must be square and 784 bytes")
	ErrCountMismatch = errors.New("image and label counts differ")
)

// Set selects which pair of files to load.
type Set int

const (
	Train Set = iota
	Test
)

func (s Set) files() (images, labels string) {
	if s == Test {
		return "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"
	}
	return "train-images-idx3-ubyte", "train-labels-idx1-ubyte"
}

func (s Set) String() string {
	if s == Test {
		return "test"
	}
	return "train"
}

// Sample is one immutable labeled feature vector.
type Sample struct {
	Features [wire.VectorSize]byte
	Label    byte
}

// Dataset holds samples in file order. It is never modified after load.
type Dataset struct {
	Samples []Sample
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Samples)
}

// At returns the sample at index i.
func (d *Dataset) At(i int) *Sample {
	return &d.Samples[i]
}

// Load reads one IDX pair from dir. A gzip sibling (name + ".gz") is used
// when the plain file is absent.
func Load(dir string, set Set) (*Dataset, error) {
	imgName, lblName := set.files()

	var (
		images [][wire.VectorSize]byte
		labels []byte
	)

	var g errgroup.Group
	g.Go(func() error {
		rc, err := openMaybeGzip(filepath.Join(dir, imgName))
		if err != nil {
			return err
		}
		defer rc.Close()
		images, err = readImages(bufio.NewReader(rc))
		if err != nil {
			return fmt.Errorf("%s: %w", imgName, err)
		}
		return nil
	})
	g.Go(func() error {
		rc, err := openMaybeGzip(filepath.Join(dir, lblName))
		if err != nil {
			return err
		}
		defer rc.Close()
		labels, err = readLabels(bufio.NewReader(rc))
		if err != nil {
			return fmt.Errorf("%s: %w", lblName, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load %s set: %w", set, err)
	}

	return assemble(images, labels)
}

// Read parses an images stream and a labels stream.
func Read(images, labels io.Reader) (*Dataset, error) {
	imgs, err := readImages(images)
	if err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}
	lbls, err := readLabels(labels)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	return assemble(imgs, lbls)
}

func assemble(images [][wire.VectorSize]byte, labels []byte) (*Dataset, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrCountMismatch, len(images), len(labels))
	}
	samples := make([]Sample, len(images))
	for i := range samples {
		samples[i] = Sample{Features: images[i], Label: labels[i]}
	}
	return &Dataset{Samples: samples}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	gz, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		// Report the plain name; that is what the user is expected to provide.
		return nil, err
	}
	zr, err := gzip.NewReader(bufio.NewReader(gz))
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("%s.gz: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: gz}, nil
}

func readHeader(r io.Reader, words []uint32) error {
	for i := range words {
		v, err := wire.ReadUint32(r)
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		words[i] = v
	}
	return nil
}

func readImages(r io.Reader) ([][wire.VectorSize]byte, error) {
	var hdr [4]uint32
	if err := readHeader(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != imagesMagic {
		return nil, fmt.Errorf("%w: %#08x", ErrBadMagic, hdr[0])
	}
	count, rows, cols := hdr[1], hdr[2], hdr[3]
	if rows != cols || rows*cols != wire.VectorSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadDimensions, rows, cols)
	}

	images := make([][wire.VectorSize]byte, count)
	for i := range images {
		if _, err := io.ReadFull(r, images[i][:]); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
	}
	return images, nil
}

func readLabels(r io.Reader) ([]byte, error) {
	var hdr [2]uint32
	if err := readHeader(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != labelsMagic {
		return nil, fmt.Errorf("%w: %#08x", ErrBadMagic, hdr[0])
	}
	labels := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	return labels, nil
}

// Encode writes d as an IDX images stream and an IDX labels stream.
func Encode(images, labels io.Writer, d *Dataset) error {
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:], imagesMagic)
	binary.BigEndian.PutUint32(hdr[4:], uint32(d.Len()))
	binary.BigEndian.PutUint32(hdr[8:], 28)
	binary.BigEndian.PutUint32(hdr[12:], 28)
	if _, err := images.Write(hdr[:]); err != nil {
		return err
	}
	for i := range d.Samples {
		if _, err := images.Write(d.Samples[i].Features[:]); err != nil {
			return err
		}
	}

	binary.BigEndian.PutUint32(hdr[0:], labelsMagic)
	if _, err := labels.Write(hdr[:8]); err != nil {
		return err
	}
	for i := range d.Samples {
		if _, err := labels.Write([]byte{d.Samples[i].Label}); err != nil {
			return err
		}
	}
	return nil
}

// WriteFiles writes d into dir under the file names Load expects for set.
// When compress is true the files are gzipped and carry a .gz suffix.
func WriteFiles(dir string, set Set, d *Dataset, compress bool) error {
	imgName, lblName := set.files()
	if compress {
		imgName += ".gz"
		lblName += ".gz"
	}

	imgFile, err := os.Create(filepath.Join(dir, imgName))
	if err != nil {
		return err
	}
	defer imgFile.Close()
	lblFile, err := os.Create(filepath.Join(dir, lblName))
	if err != nil {
		return err
	}
	defer lblFile.Close()

	if !compress {
		if err := Encode(imgFile, lblFile, d); err != nil {
			return err
		}
		if err := imgFile.Close(); err != nil {
			return err
		}
		return lblFile.Close()
	}

	imgZ := gzip.NewWriter(imgFile)
	lblZ := gzip.NewWriter(lblFile)
	if err := Encode(imgZ, lblZ, d); err != nil {
		return err
	}
	for _, c := range []io.Closer{imgZ, lblZ, imgFile, lblFile} {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}
