package broadcast

import (
	"errors"
	"fmt"

	"github.com/micutio/airfuse/internal/throttle"
)

// Fanout delivers every batch to all of its consumers. A failing consumer does not keep the
// others from receiving the batch.
type Fanout []throttle.Consumer

// OnBatch forwards the batch to every consumer and joins their errors.
func (f Fanout) OnBatch(class throttle.Class, entries []throttle.Entry) error {
	var errs []error
	for i, consumer := range f {
		if err := deliver(consumer, class, entries); err != nil {
			errs = append(errs, fmt.Errorf("consumer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func deliver(consumer throttle.Consumer, class throttle.Class, entries []throttle.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", throttle.ErrConsumerPanic, r)
		}
	}()
	return consumer.OnBatch(class, entries)
}
