// Package monitor renders debug views of a scan and the landmarks
// extracted from it: static PNG plots via gonum/plot and interactive HTML
// scatter charts via go-echarts.
package monitor
