package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aurora-vm-inspector/internal/collector"
	"aurora-vm-inspector/internal/inspector"
)

type handlers struct {
	in    collector.Inspector
	store *collector.Store
}

func (h *handlers) listInstances(c *gin.Context) {
	insts, err := inspector.Collect(h.in.Instances(c.Request.Context()))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": insts})
}

func (h *handlers) cpu(c *gin.Context) {
	stats, err := h.in.InspectCPU(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) interfaces(c *gin.Context) {
	nics, err := inspector.Collect(h.in.InspectVNICs(c.Request.Context(), c.Param("name")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interfaces": nics})
}

func (h *handlers) disks(c *gin.Context) {
	disks, err := inspector.Collect(h.in.InspectDisks(c.Request.Context(), c.Param("name")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disks": disks})
}

func (h *handlers) snapshots(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"snapshots": []any{}})
		return
	}
	last, err := h.store.Status()
	body := gin.H{"snapshots": h.store.Snapshots()}
	if !last.IsZero() {
		body["last_poll_unix"] = last.Unix()
	}
	if err != nil {
		body["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) snapshot(c *gin.Context) {
	if h.store != nil {
		if snap, ok := h.store.Get(c.Param("name")); ok {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for instance"})
}
