package display

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Go-routine-4595/vehicle-diag/model"
)

// Display prints warning events to stdout. Used as the event sink when no
// broker is reachable or during bench testing.
type Display struct{}

func NewDisplay() Display {
	return Display{}
}

func (d Display) PublishWarning(ev model.WarningEvent) error {
	var (
		buf []byte
		err error
	)

	buf, err = json.Marshal(ev)
	if err != nil {
		return errors.Join(err, errors.New("failed to marshal event display.PublishWarning"))
	}
	display(string(buf))

	return nil
}

func display(text string) {
	fmt.Println(text)
}
