// Package events is a synchronous pub-sub switch keyed by event name.
package events

import (
	"sync"

	"github.com/orvnode/orv/libs/log"
)

// EventData is the payload handed to listeners.
type EventData interface{}

// Fireable is the interface that wraps the FireEvent method.
//
// FireEvent fires an event with the given name and data.
type Fireable interface {
	FireEvent(eventValue string, data EventData)
}

// EventSwitch is the interface for synchronous pubsub, where listeners
// subscribe to certain events and, when an event is fired (see Fireable),
// notified via a callback function.
//
// Listeners are added by calling AddListenerForEvent function.
// They can be removed by calling RemoveListener.
type EventSwitch interface {
	Fireable
	AddListenerForEvent(listenerID, eventValue string, cb EventCallback) error
	RemoveListener(listenerID string)
	HasListeners(eventValue string) bool
}

type eventSwitch struct {
	logger log.Logger

	mtx        sync.RWMutex
	eventCells map[string]*eventCell
}

func NewEventSwitch(logger log.Logger) EventSwitch {
	return &eventSwitch{
		logger:     logger,
		eventCells: make(map[string]*eventCell),
	}
}

func (evsw *eventSwitch) AddListenerForEvent(listenerID, eventValue string, cb EventCallback) error {
	// Get/Create eventCell and listener.
	evsw.mtx.Lock()
	eventCell := evsw.eventCells[eventValue]
	if eventCell == nil {
		eventCell = newEventCell()
		evsw.eventCells[eventValue] = eventCell
	}
	evsw.mtx.Unlock()

	eventCell.addListener(listenerID, cb)
	return nil
}

func (evsw *eventSwitch) RemoveListener(listenerID string) {
	evsw.mtx.RLock()
	cells := make([]*eventCell, 0, len(evsw.eventCells))
	for _, cell := range evsw.eventCells {
		cells = append(cells, cell)
	}
	evsw.mtx.RUnlock()

	for _, cell := range cells {
		cell.removeListener(listenerID)
	}
}

func (evsw *eventSwitch) HasListeners(eventValue string) bool {
	evsw.mtx.RLock()
	eventCell := evsw.eventCells[eventValue]
	evsw.mtx.RUnlock()
	return eventCell != nil && eventCell.size() > 0
}

func (evsw *eventSwitch) FireEvent(event string, data EventData) {
	// Get the eventCell
	evsw.mtx.RLock()
	eventCell := evsw.eventCells[event]
	evsw.mtx.RUnlock()

	if eventCell == nil {
		return
	}

	// Fire event for all listeners in eventCell
	for id, err := range eventCell.fireEvent(data) {
		evsw.logger.Error("event listener failed", "event", event, "listener", id, "err", err)
	}
}

//-----------------------------------------------------------------------------

type EventCallback func(data EventData) error

// eventCell handles keeping track of listener callbacks for a given event.
type eventCell struct {
	mtx       sync.RWMutex
	listeners map[string]EventCallback
}

func newEventCell() *eventCell {
	return &eventCell{
		listeners: make(map[string]EventCallback),
	}
}

func (cell *eventCell) addListener(listenerID string, cb EventCallback) {
	cell.mtx.Lock()
	defer cell.mtx.Unlock()
	cell.listeners[listenerID] = cb
}

func (cell *eventCell) removeListener(listenerID string) {
	cell.mtx.Lock()
	defer cell.mtx.Unlock()
	delete(cell.listeners, listenerID)
}

func (cell *eventCell) size() int {
	cell.mtx.RLock()
	defer cell.mtx.RUnlock()
	return len(cell.listeners)
}

// fireEvent calls every listener outside the lock and returns the failures
// keyed by listener.
func (cell *eventCell) fireEvent(data EventData) map[string]error {
	cell.mtx.RLock()
	eventCallbacks := make(map[string]EventCallback, len(cell.listeners))
	for id, cb := range cell.listeners {
		eventCallbacks[id] = cb
	}
	cell.mtx.RUnlock()

	var failed map[string]error
	for id, cb := range eventCallbacks {
		if err := cb(data); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
		}
	}
	return failed
}
