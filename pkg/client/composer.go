package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/geo"
)

// maxParallelUploads bounds concurrent image uploads per submission.
const maxParallelUploads = 4

// Attachment is one picked image.
type Attachment struct {
	Name string
	Data []byte
}

type Uploader interface {
	UploadImage(ctx context.Context, data []byte) (string, error)
}

type CaseCreator interface {
	CreateCase(ctx context.Context, in cases.NewCaseInput) (*cases.Case, error)
}

// FixSource reports the most recent device position, if any.
type FixSource interface {
	LastFix() (geo.Point, bool)
}

// UploadFailure names an attachment that could not be stored.
type UploadFailure struct {
	Name string
	Err  error
}

type SubmitResult struct {
	Case   *cases.Case
	Failed []UploadFailure
}

// Composer holds the in-progress emergency report. Reporter name and phone
// survive a submission; everything else is cleared.
type Composer struct {
	uploader Uploader
	creator  CaseCreator
	fixes    FixSource

	mu          sync.Mutex
	name        string
	phone       string
	reportType  cases.ReportType
	description string
	images      []Attachment
	picked      *geo.Point
}

func NewComposer(uploader Uploader, creator CaseCreator, fixes FixSource) *Composer {
	return &Composer{
		uploader:   uploader,
		creator:    creator,
		fixes:      fixes,
		reportType: cases.TypeAccident,
	}
}

func (c *Composer) SetReporter(name, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name, c.phone = name, phone
}

func (c *Composer) SetType(t cases.ReportType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportType = t
}

func (c *Composer) SetDescription(d string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.description = d
}

func (c *Composer) AddImage(a Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, a)
}

// Pick overrides the device fix with a map-selected point.
func (c *Composer) Pick(p geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.picked = &p
}

func (c *Composer) ClearPick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.picked = nil
}

// Draft returns the current report fields.
func (c *Composer) Draft() (name, phone string, t cases.ReportType, description string, images int, picked *geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.phone, c.reportType, c.description, len(c.images), c.picked
}

// location picks the picked point, then the last device fix.
func (c *Composer) location() (geo.Point, error) {
	if c.picked != nil {
		return *c.picked, nil
	}
	if c.fixes != nil {
		if p, ok := c.fixes.LastFix(); ok {
			return p, nil
		}
	}
	return geo.Point{}, cases.ErrNoLocation
}

// Submit validates the draft, uploads images concurrently and creates the
// case. Images that fail to upload are left out of the case and listed in
// the result.
func (c *Composer) Submit(ctx context.Context) (*SubmitResult, error) {
	c.mu.Lock()
	in := cases.NewCaseInput{
		ReporterName:  c.name,
		ReporterPhone: c.phone,
		ReportType:    c.reportType,
		Description:   c.description,
	}
	images := append([]Attachment(nil), c.images...)
	at, locErr := c.location()
	c.mu.Unlock()

	if locErr == nil {
		in.Latitude, in.Longitude = &at.Latitude, &at.Longitude
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	urls := make([]string, len(images))
	errs := make([]error, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			url, err := c.uploader.UploadImage(gctx, img.Data)
			if err != nil {
				log.Printf("[WARN] Image %s upload failed: %v", img.Name, err)
				errs[i] = err
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	result := &SubmitResult{}
	for i, img := range images {
		if errs[i] != nil {
			result.Failed = append(result.Failed, UploadFailure{Name: img.Name, Err: errs[i]})
			continue
		}
		in.Images = append(in.Images, urls[i])
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	created, err := c.creator.CreateCase(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	result.Case = created

	c.mu.Lock()
	c.description = ""
	c.images = nil
	c.picked = nil
	c.mu.Unlock()
	return result, nil
}
