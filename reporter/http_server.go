// This is a http type of reporter.
// It reads contract handles from the handle store
// and publishes them on the http routes.

package reporter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TEENet-io/covenant-go/btcman/utils"
	"github.com/TEENet-io/covenant-go/common"
	"github.com/TEENet-io/covenant-go/covenant"
	"github.com/TEENet-io/covenant-go/handlestore"
)

const (
	ROUTE_HELLO   = "/hello"
	ROUTE_HANDLES = "/handles"
	ROUTE_HANDLE  = "/handles/:id"
	ROUTE_BALANCE = "/balance"
)

// Balancer reports spendable fee funds, satisfied by btcvault.TreasureVault.
type Balancer interface {
	Balance() (int64, error)
}

// HandleView is the published form of a contract handle.
type HandleView struct {
	ID              string   `json:"id"`
	Family          string   `json:"family"`
	Status          string   `json:"status"`
	Tip             string   `json:"tip,omitempty"`
	Lineage         []string `json:"lineage"`
	Unconfirmed     bool     `json:"unconfirmed"`
	Reason          string   `json:"reason,omitempty"`
	Value           int64    `json:"value,omitempty"`
	Outpoint        string   `json:"outpoint,omitempty"`
	PublicData      string   `json:"public_data"`
	PrecheckVersion uint32   `json:"precheck_version"`
}

func NewHandleView(h *covenant.Handle) HandleView {
	s := h.Snapshot()
	v := HandleView{
		ID:              s.ID,
		Family:          s.Family,
		Status:          s.Status.String(),
		Lineage:         s.Lineage,
		Unconfirmed:     s.Unconfirmed,
		Reason:          s.Reason,
		PublicData:      common.ByteSliceToPureHexStr(s.State.PublicData),
		PrecheckVersion: s.State.PrecheckVersion,
	}
	if len(s.Lineage) > 0 {
		v.Tip = s.Lineage[len(s.Lineage)-1]
	}
	if s.UTXO != nil {
		v.Value = s.UTXO.Amount
		v.Outpoint = s.UTXO.Key()
	}
	return v
}

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	store handlestore.Store // this is an interface
	funds Balancer          // optional
}

func NewHttpReporter(serverIP string, serverPort string, store handlestore.Store, funds Balancer) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		store:      store,
		funds:      funds,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_HANDLES, h.Handles)
	router.GET(ROUTE_HANDLE, h.Handle)
	if h.funds != nil {
		router.GET(ROUTE_BALANCE, h.Balance)
	}

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() error {
	router := h.SetupRouter()
	return router.Run(h.serverIP + ":" + h.serverPort)
}

func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// Handles lists stored handles, optionally filtered by family and status.
func (h *HttpReporter) Handles(c *gin.Context) {
	family := c.Query("family")
	status := c.Query("status")

	handles, err := h.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]HandleView, 0, len(handles))
	for _, handle := range handles {
		v := NewHandleView(handle)
		if (family != "" && v.Family != family) || (status != "" && v.Status != status) {
			continue
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *HttpReporter) Handle(c *gin.Context) {
	handle, err := h.store.Load(c.Param("id"))
	if errors.Is(err, handlestore.ErrHandleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No handle found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": NewHandleView(handle)})
}

func (h *HttpReporter) Balance(c *gin.Context) {
	sats, err := h.funds.Balance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"satoshi": sats, "btc": utils.FormatBtc(sats)})
}
