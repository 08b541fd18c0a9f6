package mailbox

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/knnipc/internal/shm"
)

// Names locates the shared objects of one mailbox service.
type Names struct {
	Dir    string
	Prefix string
}

func (n Names) dir() string {
	if n.Dir == "" {
		return shm.DefaultDir
	}
	return n.Dir
}

func (n Names) Region() string   { return n.Prefix + "knn-shm" }
func (n Names) Server() string   { return n.Prefix + "server" }
func (n Names) Request() string  { return n.Prefix + "request" }
func (n Names) Response() string { return n.Prefix + "response" }
func (n Names) Lock() string     { return n.Prefix + "knnd.lock" }

// objects are the region and the semaphore triad, attached by one process.
type objects struct {
	region   *shm.Region
	box      Mailbox
	server   *shm.Semaphore
	request  *shm.Semaphore
	response *shm.Semaphore
}

// create replaces and initializes every object: the region zeroed, SERVER
// at 1, REQUEST and RESPONSE at 0.
func create(n Names) (*objects, error) {
	o := &objects{}
	var err error
	dir := n.dir()

	if o.region, err = shm.Create(dir, n.Region(), Size); err != nil {
		return nil, err
	}
	if o.server, err = shm.CreateSemaphore(dir, n.Server(), 1); err != nil {
		return nil, errors.Join(err, o.close())
	}
	if o.request, err = shm.CreateSemaphore(dir, n.Request(), 0); err != nil {
		return nil, errors.Join(err, o.close())
	}
	if o.response, err = shm.CreateSemaphore(dir, n.Response(), 0); err != nil {
		return nil, errors.Join(err, o.close())
	}
	o.box = New(o.region.Bytes())
	return o, nil
}

// attach opens objects a server has already created.
func attach(n Names) (*objects, error) {
	o := &objects{}
	var err error
	dir := n.dir()

	if o.region, err = shm.Open(dir, n.Region(), Size); err != nil {
		return nil, fmt.Errorf("attach mailbox (is knnd shm running?): %w", err)
	}
	if o.server, err = shm.OpenSemaphore(dir, n.Server()); err != nil {
		return nil, errors.Join(err, o.close())
	}
	if o.request, err = shm.OpenSemaphore(dir, n.Request()); err != nil {
		return nil, errors.Join(err, o.close())
	}
	if o.response, err = shm.OpenSemaphore(dir, n.Response()); err != nil {
		return nil, errors.Join(err, o.close())
	}
	o.box = New(o.region.Bytes())
	return o, nil
}

func (o *objects) close() error {
	var errs []error
	for _, s := range []*shm.Semaphore{o.server, o.request, o.response} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	if o.region != nil {
		errs = append(errs, o.region.Close())
	}
	return errors.Join(errs...)
}

func (o *objects) remove() error {
	var errs []error
	for _, s := range []*shm.Semaphore{o.server, o.request, o.response} {
		if s != nil {
			errs = append(errs, s.Remove())
		}
	}
	if o.region != nil {
		errs = append(errs, o.region.Remove())
	}
	return errors.Join(errs...)
}
