package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/geo"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool // by payload
}

func (u *fakeUploader) UploadImage(ctx context.Context, data []byte) (string, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	if u.fail[string(data)] {
		return "", errors.New("storage unavailable")
	}
	return "http://minio/case-images/sos/" + string(data) + ".jpg", nil
}

type fakeCreator struct {
	got   *cases.NewCaseInput
	err   error
	calls int
}

func (c *fakeCreator) CreateCase(ctx context.Context, in cases.NewCaseInput) (*cases.Case, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	c.got = &in
	return &cases.Case{
		ID:           "case-000001",
		ReporterName: in.ReporterName,
		ReportType:   in.ReportType,
		Description:  in.Description,
		Images:       in.Images,
		Latitude:     *in.Latitude,
		Longitude:    *in.Longitude,
		Status:       cases.StatusPending,
	}, nil
}

type staticFix struct {
	p  geo.Point
	ok bool
}

func (f staticFix) LastFix() (geo.Point, bool) { return f.p, f.ok }

func TestSubmitFireReport(t *testing.T) {
	up := &fakeUploader{}
	cr := &fakeCreator{}
	c := NewComposer(up, cr, staticFix{p: geo.Point{Latitude: 13.75, Longitude: 100.50}, ok: true})
	c.SetReporter("Somchai", "0812345678")
	c.SetType(cases.TypeFire)

	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Case)
	assert.Empty(t, res.Failed)
	assert.Equal(t, cases.StatusPending, res.Case.Status)
	assert.Equal(t, cases.TypeFire, cr.got.ReportType)
	assert.Equal(t, "-", cr.got.Description)
	assert.Empty(t, cr.got.Images)
	assert.Equal(t, 13.75, *cr.got.Latitude)
	assert.Equal(t, 100.50, *cr.got.Longitude)
	assert.Equal(t, 0, up.calls)
}

func TestSubmitPartialUploadFailure(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"b": true}}
	cr := &fakeCreator{}
	c := NewComposer(up, cr, staticFix{p: geo.Point{Latitude: 13.75, Longitude: 100.5}, ok: true})
	c.SetReporter("Somchai", "0812345678")
	for _, name := range []string{"a", "b", "c"} {
		c.AddImage(Attachment{Name: name + ".jpg", Data: []byte(name)})
	}

	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, up.calls)
	assert.Equal(t, []string{
		"http://minio/case-images/sos/a.jpg",
		"http://minio/case-images/sos/c.jpg",
	}, cr.got.Images)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "b.jpg", res.Failed[0].Name)
}

func TestSubmitManyImagesKeepsOrder(t *testing.T) {
	up := &fakeUploader{}
	cr := &fakeCreator{}
	c := NewComposer(up, cr, staticFix{p: geo.Point{Latitude: 1, Longitude: 1}, ok: true})
	c.SetReporter("A", "1")

	var want []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("img%02d", i)
		c.AddImage(Attachment{Name: name, Data: []byte(name)})
		want = append(want, "http://minio/case-images/sos/"+name+".jpg")
	}

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, cr.got.Images)
}

func TestSubmitPickedLocationWins(t *testing.T) {
	cr := &fakeCreator{}
	c := NewComposer(&fakeUploader{}, cr, staticFix{p: geo.Point{Latitude: 13.75, Longitude: 100.5}, ok: true})
	c.SetReporter("Somchai", "0812345678")
	c.Pick(geo.Point{Latitude: 13.80, Longitude: 100.55})

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13.80, *cr.got.Latitude)
	assert.Equal(t, 100.55, *cr.got.Longitude)
}

func TestSubmitWithoutLocation(t *testing.T) {
	cr := &fakeCreator{}
	c := NewComposer(&fakeUploader{}, cr, staticFix{})
	c.SetReporter("Somchai", "0812345678")

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, cases.ErrNoLocation)
	assert.Equal(t, 0, cr.calls)

	c = NewComposer(&fakeUploader{}, cr, nil)
	c.SetReporter("Somchai", "0812345678")
	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, cases.ErrNoLocation)
}

func TestSubmitValidatesBeforeNetwork(t *testing.T) {
	up := &fakeUploader{}
	cr := &fakeCreator{}
	c := NewComposer(up, cr, staticFix{p: geo.Point{Latitude: 1, Longitude: 1}, ok: true})
	c.SetReporter("", "0812345678")
	c.AddImage(Attachment{Name: "a", Data: []byte("a")})

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, cases.ErrValidation)
	assert.Equal(t, 0, up.calls)
	assert.Equal(t, 0, cr.calls)

	c.SetReporter("Somchai", "0812345678")
	c.SetType(cases.ReportType("earthquake"))
	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, cases.ErrValidation)
	assert.Equal(t, 0, up.calls)
}

func TestSubmitClearsTransientState(t *testing.T) {
	c := NewComposer(&fakeUploader{}, &fakeCreator{}, staticFix{})
	c.SetReporter("Somchai", "0812345678")
	c.SetDescription("smoke on 3rd floor")
	c.AddImage(Attachment{Name: "a", Data: []byte("a")})
	c.Pick(geo.Point{Latitude: 13.75, Longitude: 100.5})

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	name, phone, _, desc, images, picked := c.Draft()
	assert.Equal(t, "Somchai", name)
	assert.Equal(t, "0812345678", phone)
	assert.Empty(t, desc)
	assert.Zero(t, images)
	assert.Nil(t, picked)
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	cr := &fakeCreator{err: &APIError{Status: 409, Message: "active case exists"}}
	c := NewComposer(&fakeUploader{}, cr, staticFix{p: geo.Point{Latitude: 1, Longitude: 1}, ok: true})
	c.SetReporter("Somchai", "0812345678")
	c.SetDescription("flooded road")

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrConflict)

	_, _, _, desc, _, _ := c.Draft()
	assert.Equal(t, "flooded road", desc)
}
