package testutil

// BlurHCL is a two-stage box blur over a sampled 12x12 input, producing a
// w x w output.
const BlurHCL = `
name = "blur"

param "w" {
  default = 10
}

input "in" {
  dims = 2
  sample {
    bounds = [[0, 12], [0, 12]]
    vars   = ["i", "j"]
    value  = (i * 31 + j * 17) % 101
  }
}

stage "blur_x" {
  vars  = ["x", "y"]
  value = (in(x, y) + in(x + 1, y) + in(x + 2, y)) / 3
}

stage "blur_y" {
  vars  = ["x", "y"]
  value = (blur_x(x, y) + blur_x(x, y + 1) + blur_x(x, y + 2)) / 3
}

output "blur_y" {
  bounds = [[0, w], [0, w]]
}
`

// BlurScheduleHCL schedules BlurHCL with a producer computed per output
// row and a split, vectorized and parallel consumer.
const BlurScheduleHCL = `
schedule {
  stage "blur_x" {
    compute_at {
      stage = "blur_y"
      var   = "y"
    }
  }

  stage "blur_y" {
    split {
      var    = "x"
      outer  = "xo"
      inner  = "xi"
      factor = 4
      tail   = "guard"
    }
    vectorize {
      var = "xi"
    }
    parallel {
      var = "y"
    }
  }
}
`

// HistogramHCL counts the values of a sampled input into 8 buckets with a
// reduction over the whole input.
const HistogramHCL = `
name = "histogram"

input "img" {
  dims = 2
  sample {
    bounds = [[0, 16], [0, 16]]
    vars   = ["i", "j"]
    value  = (i * 7 + j * 3) % 8
  }
}

rdom "r" {
  range "rx" {
    min    = 0
    extent = 16
  }
  range "ry" {
    min    = 0
    extent = 16
  }
}

stage "hist" {
  vars  = ["b"]
  value = 0

  update {
    args     = [img(rx, ry)]
    value    = hist(img(rx, ry)) + 1
    rdom     = "r"
    combiner = "add"
  }
}

output "hist" {
  bounds = [[0, 8]]
}
`
