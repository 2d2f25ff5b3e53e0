package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleWebSocket upgrades the connection and attaches it to the job event
// feed.
func (s *BurrowServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader.CheckOrigin = s.checkOrigin

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(s, conn)
	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// run is the fan-out loop: client registration, deregistration, and job event
// broadcast all serialize through here.
func (s *BurrowServer) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case client := <-s.register:
			s.handleClientRegister(client)

		case client := <-s.unregister:
			s.handleClientUnregister(client)

		case job := <-s.events:
			s.broadcastJob(&jobEvent{Type: "job_update", Job: job})
		}
	}
}

func (s *BurrowServer) handleClientRegister(client *Client) {
	s.mu.Lock()

	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}

	s.clients[client] = true
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("WebSocket client connected",
		"client_id", client.id,
		"total_clients", count)
}

func (s *BurrowServer) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
	}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("WebSocket client disconnected",
		"client_id", client.id,
		"total_clients", count)
}

// broadcastJob pushes an event to every connected client, dropping it for
// clients whose send buffer is full rather than blocking the loop.
func (s *BurrowServer) broadcastJob(event *jobEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- event:
		default:
			s.logger.Debugw("Dropping job event for slow client",
				"client_id", client.id,
				"job_id", shortID(event.Job.ID))
		}
	}
}
