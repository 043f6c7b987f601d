// Package swim joins the simulator to a memberlist cluster so that observers
// and other simulator instances receive the summary of every round.
package swim

import (
	"fmt"
	"log"
	"time"

	sockaddr "github.com/hashicorp/go-sockaddr"
	"github.com/hashicorp/memberlist"

	"github.com/heitortanoue/swarmmon/logging"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

// MembershipConfig configures the node
type MembershipConfig struct {
	NodeID   string   // unique node name
	BindAddr string   // empty means the private IP of the host
	BindPort int      // SWIM port (default 7946)
	Seeds    []string // nodes to join at startup
	Logger   *logging.SimLogger

	// OnSummary, when set, receives every newer summary gossiped by a peer
	OnSummary func(protocol.RoundSummary)
}

// MembershipManager wraps the memberlist and the summary delegate
type MembershipManager struct {
	ml       *memberlist.Memberlist
	delegate *SummaryDelegate
	nodeID   string
}

// resolveBindAddr picks the bind address when none is configured
func resolveBindAddr(addr string) string {
	if addr != "" {
		return addr
	}
	ip, err := sockaddr.GetPrivateIP()
	if err != nil || ip == "" {
		log.Printf("[SWIM] No private IP found, binding to 0.0.0.0")
		return "0.0.0.0"
	}
	return ip
}

// NewMembershipManager creates the node and joins the seeds
func NewMembershipManager(config MembershipConfig) (*MembershipManager, error) {
	cfg := memberlist.DefaultLANConfig()
	cfg.Name = config.NodeID
	cfg.BindAddr = resolveBindAddr(config.BindAddr)
	cfg.BindPort = config.BindPort
	cfg.AdvertisePort = config.BindPort

	manager := &MembershipManager{nodeID: config.NodeID}

	manager.delegate = NewSummaryDelegate(config.NodeID, func() int {
		if manager.ml == nil {
			return 1
		}
		return manager.ml.NumMembers()
	}, cfg.RetransmitMult)

	manager.delegate.OnSummary(config.OnSummary)
	cfg.Delegate = manager.delegate
	cfg.Events = &SwimEvents{nodeID: config.NodeID, logger: config.Logger, delegate: manager.delegate}

	cfg.PushPullInterval = 30 * time.Second
	cfg.ProbeTimeout = time.Second
	cfg.ProbeInterval = 5 * time.Second

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	manager.ml = ml

	validSeeds := make([]string, 0, len(config.Seeds))
	for _, seed := range config.Seeds {
		if seed != config.NodeID && seed != "" {
			validSeeds = append(validSeeds, seed)
		}
	}
	if len(validSeeds) > 0 {
		joinCount, err := ml.Join(validSeeds)
		if err != nil {
			log.Printf("[SWIM] Warning: failed to join seeds %v: %v", validSeeds, err)
		} else {
			log.Printf("[SWIM] Joined %d seed nodes", joinCount)
		}
	}

	log.Printf("[SWIM] Node %s listening on %s", config.NodeID, ml.LocalNode().Address())
	return manager, nil
}

// Publish gossips the summary of a round snapshot
func (m *MembershipManager) Publish(s protocol.Snapshot) {
	m.delegate.Publish(s)
}

// Peers returns the latest summary received from every live peer
func (m *MembershipManager) Peers() map[string]protocol.RoundSummary {
	return m.delegate.Peers()
}

// GetLiveMembers returns the live members, this node excluded
func (m *MembershipManager) GetLiveMembers() []*memberlist.Node {
	allMembers := m.ml.Members()
	liveMembers := make([]*memberlist.Node, 0, len(allMembers))

	for _, member := range allMembers {
		if member.Name != m.nodeID {
			liveMembers = append(liveMembers, member)
		}
	}
	return liveMembers
}

// GetNodeID returns the name of this node
func (m *MembershipManager) GetNodeID() string {
	return m.nodeID
}

// GetLocalAddr returns the memberlist address of this node
func (m *MembershipManager) GetLocalAddr() string {
	return m.ml.LocalNode().Address()
}

// JoinNode joins the cluster through a node
func (m *MembershipManager) JoinNode(nodeAddr string) error {
	joinCount, err := m.ml.Join([]string{nodeAddr})
	if err != nil {
		return fmt.Errorf("failed to join node %s: %w", nodeAddr, err)
	}
	log.Printf("[SWIM] Joined %d nodes through %s", joinCount, nodeAddr)
	return nil
}

// Leave leaves the cluster gracefully
func (m *MembershipManager) Leave() error {
	if err := m.ml.Leave(5 * time.Second); err != nil {
		return fmt.Errorf("failed to leave cluster: %w", err)
	}
	return nil
}

// Shutdown stops the memberlist
func (m *MembershipManager) Shutdown() error {
	if err := m.ml.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down memberlist: %w", err)
	}
	return nil
}

// GetStats returns membership statistics
func (m *MembershipManager) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"node_id":       m.nodeID,
		"total_members": m.ml.NumMembers(),
		"live_members":  len(m.GetLiveMembers()),
		"local_addr":    m.ml.LocalNode().Address(),
		"summaries":     m.delegate.GetStats(),
	}
}
