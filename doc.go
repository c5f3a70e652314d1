/*
Package autolabel implements the auto-annotation pipeline used for
labelling object detection and segmentation datasets.  It drives a two
stage inference chain where a text prompted object detector finds
candidate boxes and a promptable segmentation model refines each box
into a pixel accurate mask.

The Orchestrator owns one detection and one segmentation engine, caches
completed annotations by image/prompt fingerprint, and reports staged
progress through Notifier callbacks.  The BatchRunner feeds a list of
image files through one Orchestrator with per image failure isolation.

Concrete engine implementations backed by ONNX Runtime live in the
detect and segment subdirectories.  See example usage in cmd/autolabel.
*/
package autolabel
